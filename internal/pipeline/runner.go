package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/andresmejia3/facecensus/internal/metrics"
	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/andresmejia3/facecensus/internal/video"
	"go.uber.org/zap"
)

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (*types.Frame, error)
	// FrameRate is frames per second, or 0 when unknown.
	FrameRate() float64
	Close() error
}

// FrameSink receives every processed frame with the faces found in it,
// e.g. to record annotated video.
type FrameSink interface {
	WriteFrame(frame *types.Frame, faces []types.Face) error
	Close() error
}

// Recorder persists the final observations of a run.
type Recorder interface {
	Name() string
	Record(ctx context.Context, obs []types.FaceObservation) error
}

// OpenFunc acquires a frame source.
type OpenFunc func(ctx context.Context, src video.Source) (FrameSource, error)

// SinkFunc builds a sink once the source frame rate is known.
type SinkFunc func(fps float64) (FrameSink, error)

// ErrorPolicy decides what an inference failure does to the stream.
type ErrorPolicy int

const (
	// AbortOnError stops streaming at the first failed frame. Results
	// gathered so far are still recorded and the error is returned.
	AbortOnError ErrorPolicy = iota
	// SkipFrame logs the failure, counts it and moves to the next frame.
	SkipFrame
)

func (p ErrorPolicy) String() string {
	if p == SkipFrame {
		return "skip"
	}
	return "abort"
}

// State is the runner lifecycle position.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateFinalizing
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Stats summarizes a run.
type Stats struct {
	State         State
	FrameRate     float64
	Frames        int
	Detections    int
	Admitted      int
	Duplicates    int
	SkippedFrames int
	Cancelled     bool
	ReadError     error
}

const defaultFinalizeTimeout = time.Minute

// Runner drives the frame loop over one video source.
type Runner struct {
	Open      OpenFunc
	Processor *Processor
	Sink      SinkFunc
	Recorders []Recorder
	Policy    ErrorPolicy
	Threshold float64
	// OnFrame is called after each frame, processed or skipped.
	OnFrame func(index int)
	Logger  *zap.Logger
	// FinalizeTimeout bounds the recorders; zero means one minute.
	FinalizeTimeout time.Duration

	mu    sync.Mutex
	stats Stats
}

// Stats returns a snapshot of the current or last run.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Runner) update(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Runner) setState(s State) {
	r.update(func(st *Stats) { st.State = s })
	r.log().Debug("runner state", zap.Stringer("state", s))
}

func (r *Runner) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run opens src, processes frames until the end of the stream or until ctx
// is cancelled, then hands the observations to every recorder.
//
// Cancellation and read failures end the stream without error. An inference
// failure under AbortOnError is returned after the partial results were
// recorded. A recorder failure returns the complete store together with an
// ErrSerialization error.
func (r *Runner) Run(ctx context.Context, src video.Source) (*results.Store, error) {
	r.update(func(st *Stats) { *st = Stats{} })
	log := r.log().With(zap.Stringer("source", src))

	r.setState(StateOpening)
	source, err := r.Open(ctx, src)
	if err != nil {
		r.setState(StateError)
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceOpen, src, err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			log.Warn("closing video source", zap.Error(err))
		}
	}()

	fps := source.FrameRate()
	r.update(func(st *Stats) { st.FrameRate = fps })
	if !usableRate(fps) {
		log.Info("no usable frame rate, observations carry no timestamp", zap.Float64("fps", fps))
	}

	var sink FrameSink
	if r.Sink != nil {
		sink, err = r.Sink(fps)
		if err != nil {
			r.setState(StateError)
			return nil, fmt.Errorf("open output sink: %w", err)
		}
		defer func() {
			if sink == nil {
				return
			}
			if err := sink.Close(); err != nil {
				log.Warn("closing output sink", zap.Error(err))
			}
		}()
	}

	threshold := r.Threshold
	var opts []results.Option
	if threshold > 0 {
		opts = append(opts, results.WithThreshold(threshold))
	}
	store := results.NewStore(opts...)
	metrics.StoredObservations.Set(0)

	r.setState(StateStreaming)
	streamErr := r.stream(ctx, log, source, &sink, store, fps)

	r.setState(StateFinalizing)
	recordErr := r.finalize(ctx, log, store)

	if err := errors.Join(streamErr, recordErr); err != nil {
		r.setState(StateError)
		return store, err
	}
	r.setState(StateDone)
	return store, nil
}

func (r *Runner) stream(ctx context.Context, log *zap.Logger, source FrameSource, sink *FrameSink, store *results.Store, fps float64) error {
	for index := 0; ; index++ {
		if ctx.Err() != nil {
			r.markCancelled(log, index)
			return nil
		}

		frame, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				r.markCancelled(log, index)
				return nil
			}
			readErr := fmt.Errorf("%w: frame %d: %w", ErrFrameRead, index, err)
			log.Warn("treating read failure as end of stream", zap.Error(readErr))
			r.update(func(st *Stats) { st.ReadError = readErr })
			return nil
		}

		var ts *float64
		if usableRate(fps) {
			t := float64(index) / fps
			ts = &t
		}

		res, err := r.Processor.ProcessFrame(ctx, frame, store, ts)
		if err != nil {
			if ctx.Err() != nil {
				r.markCancelled(log, index)
				return nil
			}
			metrics.FramesProcessedTotal.WithLabelValues("failed").Inc()
			if r.Policy == SkipFrame {
				log.Warn("skipping frame", zap.Int("frame", index), zap.Error(err))
				r.update(func(st *Stats) { st.SkippedFrames++ })
				r.frameDone(index)
				continue
			}
			return err
		}
		metrics.FramesProcessedTotal.WithLabelValues("ok").Inc()

		admitted := res.Admitted()
		r.update(func(st *Stats) {
			st.Frames++
			st.Detections += len(res.Faces)
			st.Admitted += admitted
			st.Duplicates += len(res.Faces) - admitted
		})

		if *sink != nil {
			if err := (*sink).WriteFrame(frame, res.Faces); err != nil {
				log.Error("output sink failed, no further frames will be written", zap.Error(err))
				(*sink).Close()
				*sink = nil
			}
		}
		r.frameDone(index)
	}
}

func (r *Runner) frameDone(index int) {
	if r.OnFrame != nil {
		r.OnFrame(index)
	}
}

func (r *Runner) markCancelled(log *zap.Logger, index int) {
	log.Info("stop requested, finalizing partial results", zap.Int("frame", index))
	r.update(func(st *Stats) { st.Cancelled = true })
}

func (r *Runner) finalize(ctx context.Context, log *zap.Logger, store *results.Store) error {
	timeout := r.FinalizeTimeout
	if timeout <= 0 {
		timeout = defaultFinalizeTimeout
	}
	// Recording must happen even when the stream was cancelled.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	obs := store.Observations()
	var errs []error
	for _, rec := range r.Recorders {
		if err := rec.Record(fctx, obs); err != nil {
			log.Error("recording results failed", zap.String("recorder", rec.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", rec.Name(), err))
			continue
		}
		log.Info("results recorded", zap.String("recorder", rec.Name()), zap.Int("observations", len(obs)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSerialization, errors.Join(errs...))
	}
	return nil
}

func usableRate(fps float64) bool {
	return fps > 0 && !math.IsInf(fps, 0) && !math.IsNaN(fps)
}
