package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/andresmejia3/facecensus/internal/utils"
	"go.uber.org/zap"
)

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

const maxFrameSize = 32 * 1024 * 1024

// Reader yields frames until io.EOF.
type Reader interface {
	Next(ctx context.Context) (*types.Frame, error)
	FrameRate() float64
	Close() error
}

// Options tune how a source is opened.
type Options struct {
	// FrameRate overrides the probed rate when > 0.
	FrameRate float64
	// Width and Height request a capture size from a camera. Zero keeps the
	// device default.
	Width, Height int
	Logger        *zap.Logger
}

// Open picks the reader for src: a single frame for still images, an ffmpeg
// MJPEG pipe for video files and cameras.
func Open(ctx context.Context, src Source, opts Options) (Reader, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if src.IsStill() {
		return OpenImage(src.Path())
	}

	input := src.Path()
	if src.IsCamera() {
		input = src.Device()
	}
	if _, err := os.Stat(input); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	fps := opts.FrameRate
	if fps <= 0 {
		info, err := ProbeStream(ctx, src)
		switch {
		case errors.Is(err, exec.ErrNotFound):
			log.Warn("ffprobe not found, frame rate unknown")
		case err != nil && !src.IsCamera():
			return nil, err
		case err != nil:
			log.Warn("could not probe camera", zap.Error(err))
		default:
			fps = info.FrameRate
		}
	}

	cmd := NewFFmpegCmd(ctx, src, opts)
	return startFFmpeg(cmd, fps)
}

// NewFFmpegCmd builds a decoder that writes MJPEG frames to stdout.
func NewFFmpegCmd(ctx context.Context, src Source, opts Options) *utils.SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if src.IsCamera() {
		args = append(args, "-f", "v4l2")
		if opts.FrameRate > 0 {
			args = append(args, "-framerate", strconv.FormatFloat(opts.FrameRate, 'f', -1, 64))
		}
		if opts.Width > 0 && opts.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
		}
		args = append(args, "-i", src.Device())
	} else {
		args = append(args, "-i", src.Path())
	}
	// -q:v 2 keeps the re-encoded frames close to the decoded quality.
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "2", "-")
	return utils.NewSafeCommand(ctx, "ffmpeg", args...)
}

// FFmpegSource reads frames from a running ffmpeg decoder.
type FFmpegSource struct {
	cmd     *utils.SafeCommand
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	fps     float64
	index   int

	waitOnce sync.Once
	waitErr  error
}

func startFFmpeg(cmd *utils.SafeCommand, fps float64) (*FFmpegSource, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), maxFrameSize)
	scanner.Split(SplitJpeg)
	return &FFmpegSource{cmd: cmd, stdout: stdout, scanner: scanner, fps: fps}, nil
}

// Next returns the next frame. A clean ffmpeg exit gives io.EOF; a failed one
// returns the exit error together with ffmpeg's log output.
func (s *FFmpegSource) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read ffmpeg output: %w", err)
		}
		if err := s.wait(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// The scanner reuses its buffer.
	data := bytes.Clone(s.scanner.Bytes())
	f := types.NewEncodedFrame(s.index, data)
	s.index++
	return f, nil
}

func (s *FFmpegSource) FrameRate() float64 { return s.fps }

// Close stops the decoder. Killing it mid-stream is expected, so the exit
// status is not reported.
func (s *FFmpegSource) Close() error {
	if s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Kill()
	}
	s.stdout.Close()
	s.wait()
	return nil
}

func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.WrapExit(s.cmd.Wait())
	})
	return s.waitErr
}

// SplitJpeg is a bufio.SplitFunc that cuts whole JPEG images out of an MJPEG
// stream by their SOI and EOI markers. Bytes before the first SOI are skipped.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(JpegSOI):], JpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	stop := start + len(JpegSOI) + end + len(JpegEOI)
	return stop, data[start:stop], nil
}

// StreamInfo is what ffprobe reports about the first video stream.
type StreamInfo struct {
	FrameRate float64
	Frames    int
	Width     int
	Height    int
}

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// ProbeStream asks ffprobe for the frame rate, size and container frame
// count. It returns exec.ErrNotFound when ffprobe is not installed.
func ProbeStream(ctx context.Context, src Source) (StreamInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return StreamInfo{}, exec.ErrNotFound
	}
	args := []string{"-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames", "-of", "json"}
	if src.IsCamera() {
		args = append(args, "-f", "v4l2", src.Device())
	} else {
		args = append(args, src.Path())
	}
	cmd := utils.NewSafeCommand(ctx, "ffprobe", args...)
	out, err := cmd.Output()
	if err != nil {
		return StreamInfo{}, cmd.WrapExit(err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (StreamInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return StreamInfo{}, fmt.Errorf("ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return StreamInfo{}, fmt.Errorf("no video stream")
	}
	st := res.Streams[0]
	info := StreamInfo{Width: st.Width, Height: st.Height}
	info.FrameRate = ParseRate(st.AvgFrameRate)
	if info.FrameRate == 0 {
		info.FrameRate = ParseRate(st.RFrameRate)
	}
	if n, err := strconv.Atoi(st.NbFrames); err == nil && n > 0 {
		info.Frames = n
	}
	return info, nil
}

// ParseRate reads ffprobe rates such as "30000/1001" or "25". Anything
// unparsable or non-positive is 0.
func ParseRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return n / d
}

// ProbeFrameCount returns the number of frames in a video file for progress
// reporting. It tries container metadata first and falls back to counting
// packets. Zero means unknown.
func ProbeFrameCount(ctx context.Context, path string, log *zap.Logger) int {
	if log == nil {
		log = zap.NewNop()
	}
	info, err := ProbeStream(ctx, FilePath(path))
	if errors.Is(err, exec.ErrNotFound) {
		log.Warn("ffprobe not found, progress will be shown without a total")
		return 0
	}
	if err == nil && info.Frames > 0 {
		return info.Frames
	}

	log.Info("frame count missing from metadata, counting packets")
	cmd := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		log.Warn("ffprobe failed", zap.Error(cmd.WrapExit(err)))
		return 0
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	n, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return n
}
