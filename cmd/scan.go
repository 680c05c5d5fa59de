package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/andresmejia3/facecensus/internal/events"
	"github.com/andresmejia3/facecensus/internal/geometry"
	"github.com/andresmejia3/facecensus/internal/metrics"
	"github.com/andresmejia3/facecensus/internal/objectstore"
	"github.com/andresmejia3/facecensus/internal/onnx"
	"github.com/andresmejia3/facecensus/internal/pipeline"
	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/store"
	"github.com/andresmejia3/facecensus/internal/utils"
	"github.com/andresmejia3/facecensus/internal/video"
	"github.com/andresmejia3/facecensus/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	backendONNX   = "onnx"
	backendPython = "python"
)

// scanOptions holds the flags of the scan command.
type scanOptions struct {
	Input              string
	RecordPath         string
	OutputPath         string
	Style              string
	Strength           int
	Threshold          float64
	Backend            string
	DetectionWeights   string
	AttributeWeights   string
	DetectionThreshold float64
	FrameRate          float64
	SkipFailedFrames   bool
	Threads            int
	MetricsPort        int
}

var scanOpts scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a video, camera or image and record every distinct face",
	Example: `  facecensus scan -i clip.mp4 -r results.jsonl
  facecensus scan -i 0 -o webcam.mp4
  facecensus scan -i photo.jpg -o annotated.jpg --style blur`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := scanOpts
		applyConfigDefaults(cmd, &opts)
		return runScan(cmd.Context(), opts)
	},
}

func init() {
	f := scanCmd.Flags()
	f.StringVarP(&scanOpts.Input, "input", "i", "", "Video file, image file or camera index (e.g. 0 for /dev/video0)")
	f.StringVarP(&scanOpts.RecordPath, "record", "r", "", "Write the observations as JSON lines to this file")
	f.StringVarP(&scanOpts.OutputPath, "output", "o", "", "Write annotated video (or image, for image input) to this file")
	f.StringVar(&scanOpts.Style, "style", string(video.StyleBox), "Annotation style: box, black, blur, pixel, secure")
	f.IntVarP(&scanOpts.Strength, "strength", "s", 2, "Box line width, blur sigma or pixel block size")
	f.Float64VarP(&scanOpts.Threshold, "threshold", "t", geometry.DefaultThreshold, "Center distance in pixels below which two faces are the same person")
	f.StringVarP(&scanOpts.Backend, "backend", "b", backendONNX, "Inference backend: onnx, python")
	f.StringVar(&scanOpts.DetectionWeights, "detection-weights", "", "Face detector model (default: DETECTION_WEIGHTS)")
	f.StringVar(&scanOpts.AttributeWeights, "attribute-weights", "", "Age/gender model (default: ATTRIBUTE_WEIGHTS)")
	f.Float64VarP(&scanOpts.DetectionThreshold, "detection-threshold", "D", onnx.DefaultScoreThreshold, "Face detection confidence threshold")
	f.Float64Var(&scanOpts.FrameRate, "fps", 0, "Frame rate used for timestamps (default: probed from the source)")
	f.BoolVar(&scanOpts.SkipFailedFrames, "skip-failed-frames", false, "Skip frames whose inference fails instead of stopping the scan")
	f.IntVar(&scanOpts.Threads, "threads", 0, "ONNX Runtime threads per model (0 lets the runtime decide)")
	f.IntVar(&scanOpts.MetricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port (default: METRICS_PORT, 0 disables)")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// applyConfigDefaults fills flags left unset from the environment.
func applyConfigDefaults(cmd *cobra.Command, opts *scanOptions) {
	if Cfg == nil {
		return
	}
	if opts.DetectionWeights == "" {
		opts.DetectionWeights = Cfg.DetectionWeights
	}
	if opts.AttributeWeights == "" {
		opts.AttributeWeights = Cfg.AttributeWeights
	}
	if !cmd.Flags().Changed("backend") && Cfg.Backend != "" {
		opts.Backend = Cfg.Backend
	}
	if !cmd.Flags().Changed("metrics-port") {
		opts.MetricsPort = Cfg.MetricsPort
	}
}

// runScan wires the backend, the output sink and the recorders around a
// pipeline runner and streams the source through it.
func runScan(ctx context.Context, opts scanOptions) error {
	src, err := validateScanFlags(&opts)
	if err != nil {
		return err
	}
	log := Log
	if log == nil {
		log = zap.NewNop()
	}

	if opts.MetricsPort > 0 {
		srv := metrics.StartServer(ctx, opts.MetricsPort, log)
		defer srv.Close()
	}

	fmt.Fprintf(os.Stderr, "⚙️  Loading %s backend...\n", opts.Backend)
	b, err := newBackend(ctx, opts)
	if err != nil {
		return err
	}
	defer b.close()

	runner := &pipeline.Runner{
		Open: func(ctx context.Context, src video.Source) (pipeline.FrameSource, error) {
			return video.Open(ctx, src, video.Options{FrameRate: opts.FrameRate, Logger: log})
		},
		Threshold: opts.Threshold,
		Logger:    log,
	}
	if opts.SkipFailedFrames {
		runner.Policy = pipeline.SkipFrame
	}
	if opts.OutputPath != "" {
		annotator := video.Annotator{Style: video.Style(opts.Style), Strength: opts.Strength}
		runner.Sink = func(fps float64) (pipeline.FrameSink, error) {
			return video.NewSink(ctx, opts.OutputPath, fps, annotator)
		}
	}

	scan := store.NewScan(src.String(), opts.Threshold)
	fmt.Fprintf(os.Stderr, "📼 Scan ID: %s\n", scan.ID)

	recorders, observers, cleanup, err := buildRecorders(ctx, opts, src, scan, runner)
	if err != nil {
		return err
	}
	defer cleanup()
	runner.Recorders = recorders
	runner.Processor = pipeline.NewProcessor(b.detector, b.attributes, log, observers...)

	bar := newProgressBar(ctx, src, log)
	runner.OnFrame = func(int) { bar.Add(1) }

	res, runErr := runner.Run(ctx, src)
	bar.Finish()

	stats := runner.Stats()
	if res != nil {
		printScanSummary(os.Stderr, stats, res.Len(), opts)
		if opts.RecordPath == "" {
			printObservations(os.Stdout, res.Observations())
		}
	}
	if stats.ReadError != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Stream ended early: %v\n", stats.ReadError)
	}
	return runErr
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy
// processes. It returns the parsed source.
func validateScanFlags(opts *scanOptions) (video.Source, error) {
	src, err := video.ParseSource(opts.Input)
	if err != nil {
		return video.Source{}, err
	}
	if !src.IsCamera() {
		info, err := os.Stat(src.Path())
		if err != nil {
			if os.IsNotExist(err) {
				return video.Source{}, fmt.Errorf("input file does not exist: %w", err)
			}
			return video.Source{}, fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return video.Source{}, fmt.Errorf("input path %s is a directory, expected a video or image file", src.Path())
		}
	}
	if opts.Threshold <= 0 || math.IsNaN(opts.Threshold) || math.IsInf(opts.Threshold, 0) {
		return video.Source{}, fmt.Errorf("threshold must be a positive number of pixels, got %v", opts.Threshold)
	}
	if opts.DetectionThreshold <= 0 || opts.DetectionThreshold > 1 {
		return video.Source{}, fmt.Errorf("detection threshold must be between 0.0 and 1.0, got %v", opts.DetectionThreshold)
	}
	if opts.FrameRate < 0 || math.IsNaN(opts.FrameRate) || math.IsInf(opts.FrameRate, 0) {
		return video.Source{}, fmt.Errorf("fps must be >= 0, got %v", opts.FrameRate)
	}
	opts.Backend = strings.ToLower(opts.Backend)
	if opts.Backend != backendONNX && opts.Backend != backendPython {
		return video.Source{}, fmt.Errorf("unknown backend %q (want onnx or python)", opts.Backend)
	}
	if _, err := video.ParseStyle(opts.Style); err != nil {
		return video.Source{}, err
	}
	if opts.Strength < 1 {
		return video.Source{}, fmt.Errorf("strength must be >= 1, got %d", opts.Strength)
	}
	if opts.Threads < 0 {
		opts.Threads = 0
	}
	if opts.MetricsPort < 0 || opts.MetricsPort > 65535 {
		return video.Source{}, fmt.Errorf("invalid metrics port %d", opts.MetricsPort)
	}
	if opts.OutputPath != "" {
		if !src.IsCamera() && samePath(opts.OutputPath, src.Path()) {
			return video.Source{}, errors.New("output path must differ from the input")
		}
		if src.IsStill() != video.FilePath(opts.OutputPath).IsStill() {
			return video.Source{}, fmt.Errorf("output %s must be an image when the input is an image, and a video otherwise", opts.OutputPath)
		}
	}
	if opts.RecordPath != "" && !src.IsCamera() && samePath(opts.RecordPath, src.Path()) {
		return video.Source{}, errors.New("record path must differ from the input")
	}
	return src, nil
}

func samePath(a, b string) bool {
	ia, errA := os.Stat(a)
	ib, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ia, ib)
	}
	return a == b
}

// backend pairs the two model collaborators with their teardown.
type backend struct {
	detector   pipeline.Detector
	attributes pipeline.AttributeModel
	close      func()
}

func newBackend(ctx context.Context, opts scanOptions) (*backend, error) {
	if opts.Backend == backendPython {
		w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
			Python:             Cfg.PythonBin,
			Script:             Cfg.WorkerScript,
			DetectionWeights:   opts.DetectionWeights,
			AttributeWeights:   opts.AttributeWeights,
			DetectionThreshold: opts.DetectionThreshold,
		})
		if err != nil {
			return nil, err
		}
		return &backend{detector: w, attributes: w, close: func() {
			if err := w.Close(); err != nil {
				Log.Debug("python worker exit", zap.Error(err))
			}
		}}, nil
	}

	if err := onnx.Init(Cfg.ONNXRuntimeLib); err != nil {
		return nil, err
	}
	det, err := onnx.NewSCRFD(opts.DetectionWeights, onnx.DetectorOptions{
		ScoreThreshold: opts.DetectionThreshold,
		Threads:        opts.Threads,
	})
	if err != nil {
		onnx.Destroy()
		return nil, err
	}
	attrs, err := onnx.NewGenderAge(opts.AttributeWeights, opts.Threads)
	if err != nil {
		det.Destroy()
		onnx.Destroy()
		return nil, err
	}
	return &backend{detector: det, attributes: attrs, close: func() {
		attrs.Destroy()
		det.Destroy()
		if err := onnx.Destroy(); err != nil {
			Log.Warn("destroying onnxruntime environment", zap.Error(err))
		}
	}}, nil
}

// buildRecorders collects every configured destination for the final
// observations. Only the record file is driven by flags, the rest by the
// environment.
func buildRecorders(ctx context.Context, opts scanOptions, src video.Source, scan store.Scan, runner *pipeline.Runner) ([]pipeline.Recorder, []pipeline.Observer, func(), error) {
	var (
		recorders []pipeline.Recorder
		observers []pipeline.Observer
		closers   []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if opts.RecordPath != "" {
		recorders = append(recorders, results.FileRecorder{Path: opts.RecordPath})
	}

	if DB != nil {
		if !src.IsCamera() {
			videoID, err := utils.GenerateVideoID(src.Path())
			if err != nil {
				return nil, nil, cleanup, fmt.Errorf("failed to generate video ID: %w", err)
			}
			if err := DB.EnsureVideoMetadata(ctx, videoID, src.Path()); err != nil {
				return nil, nil, cleanup, fmt.Errorf("failed to register video metadata: %w", err)
			}
			scan.VideoID = videoID
			fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s\n", videoID[:12])
		}
		recorders = append(recorders, &store.Recorder{
			Store: DB,
			Scan:  scan,
			Complete: func(s *store.Scan) {
				st := runner.Stats()
				s.FrameRate = st.FrameRate
				s.Frames = st.Frames
				s.Cancelled = st.Cancelled
			},
		})
	}

	if Cfg != nil && Cfg.ObjectStoreEnabled() {
		storage, err := objectstore.NewStorage(objectstore.Config{
			Endpoint:  Cfg.MinIOEndpoint,
			AccessKey: Cfg.MinIOAccessKey,
			SecretKey: Cfg.MinIOSecretKey,
			UseSSL:    Cfg.MinIOUseSSL,
			Bucket:    Cfg.MinIOBucket,
			Prefix:    Cfg.MinIOPrefix,
		})
		if err != nil {
			return nil, nil, cleanup, err
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return nil, nil, cleanup, err
		}
		recorders = append(recorders, &objectstore.Recorder{Storage: storage, ScanID: scan.ID})
	}

	if Cfg != nil && Cfg.EventsEnabled() {
		pub, err := events.Dial(Cfg.RabbitMQURL, Cfg.RabbitMQExchange, scan.ID, src.String())
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				Log.Warn("closing event publisher", zap.Error(err))
			}
		})
		observers = append(observers, pub)
		recorders = append(recorders, pub)
	}

	return recorders, observers, cleanup, nil
}

// newProgressBar shows a bar with a total for video files and a spinner for
// cameras or when the frame count is unknown.
func newProgressBar(ctx context.Context, src video.Source, log *zap.Logger) *progressbar.ProgressBar {
	total := -1
	switch {
	case src.IsStill():
		total = 1
	case !src.IsCamera():
		if n := video.ProbeFrameCount(ctx, src.Path(), log); n > 0 {
			total = n
		}
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 FaceCensus Scanning"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
}

func printScanSummary(w io.Writer, st pipeline.Stats, distinct int, opts scanOptions) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 SCAN SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "🎞️  Frames Processed:        %d\n", st.Frames)
	fmt.Fprintf(w, "👁️  Total Face Detections:   %d\n", st.Detections)
	fmt.Fprintf(w, "👤 Distinct Faces:          %d\n", distinct)
	fmt.Fprintf(w, "🔁 Repeat Sightings:        %d\n", st.Duplicates)
	if st.SkippedFrames > 0 {
		fmt.Fprintf(w, "⚠️  Skipped Frames:          %d\n", st.SkippedFrames)
	}
	if st.Cancelled {
		fmt.Fprintf(w, "🛑 Stopped early, results are partial\n")
	}
	if opts.RecordPath != "" {
		fmt.Fprintf(w, "💾 Record:                  %s\n", opts.RecordPath)
	}
	if opts.OutputPath != "" {
		fmt.Fprintf(w, "🎬 Annotated Output:        %s\n", opts.OutputPath)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
