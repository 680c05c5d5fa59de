package video

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/andresmejia3/facecensus/internal/utils"
	"github.com/disintegration/imaging"
)

// DefaultOutputRate is used for annotated video when the source has no
// usable frame rate.
const DefaultOutputRate = 25.0

// Sink receives processed frames.
type Sink interface {
	WriteFrame(frame *types.Frame, faces []types.Face) error
	Close() error
}

// NewSink returns an image writer when path has an image extension and an
// ffmpeg encoder otherwise.
func NewSink(ctx context.Context, path string, fps float64, a Annotator) (Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if FilePath(path).IsStill() {
		return &ImageSink{Path: path, Annotator: a}, nil
	}
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = DefaultOutputRate
	}
	return &FFmpegSink{ctx: ctx, path: path, fps: fps, annotator: a}, nil
}

// ImageSink saves the annotated frame to a single image file. Later frames
// overwrite earlier ones.
type ImageSink struct {
	Path      string
	Annotator Annotator
}

func (w *ImageSink) WriteFrame(frame *types.Frame, faces []types.Face) error {
	img, err := frame.Image()
	if err != nil {
		return err
	}
	return imaging.Save(w.Annotator.Annotate(img, faces), w.Path, imaging.JPEGQuality(95))
}

func (w *ImageSink) Close() error { return nil }

// FFmpegSink pipes annotated JPEG frames into an ffmpeg encoder. The
// encoder starts with the first frame.
type FFmpegSink struct {
	ctx       context.Context
	path      string
	fps       float64
	annotator Annotator

	cmd   *utils.SafeCommand
	stdin io.WriteCloser
}

// NewEncoderCmd builds an encoder reading MJPEG from stdin.
func NewEncoderCmd(ctx context.Context, path string, fps float64) *utils.SafeCommand {
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-f", "image2pipe", "-framerate", rate, "-vcodec", "mjpeg", "-i", "-"}
	if strings.EqualFold(filepath.Ext(path), ".avi") {
		args = append(args, "-c:v", "mjpeg", "-q:v", "3")
	} else {
		args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "veryfast")
	}
	return utils.NewSafeCommand(ctx, "ffmpeg", append(args, path)...)
}

func (w *FFmpegSink) start() error {
	// The encoder outlives a cancelled scan so the partial video is finalized.
	cmd := NewEncoderCmd(context.WithoutCancel(w.ctx), w.path, w.fps)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	w.cmd, w.stdin = cmd, stdin
	return nil
}

func (w *FFmpegSink) WriteFrame(frame *types.Frame, faces []types.Face) error {
	if w.cmd == nil {
		if err := w.start(); err != nil {
			return err
		}
	}
	img, err := frame.Image()
	if err != nil {
		return err
	}
	if err := imaging.Encode(w.stdin, w.annotator.Annotate(img, faces), imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return w.cmd.WrapExit(fmt.Errorf("write frame %d: %w", frame.Index, err))
	}
	return nil
}

// Close flushes the encoder and waits for it to finish the file.
func (w *FFmpegSink) Close() error {
	if w.cmd == nil {
		return nil
	}
	w.stdin.Close()
	err := w.cmd.WrapExit(w.cmd.Wait())
	w.cmd = nil
	return err
}
