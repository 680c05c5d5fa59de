package video

import (
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/disintegration/imaging"
)

// ImageSource yields a single still image. It has no frame rate, so its
// observations carry no timestamp.
type ImageSource struct {
	frame *types.Frame
	done  bool
}

// OpenImage decodes the image at path, honouring its EXIF orientation.
func OpenImage(path string) (*ImageSource, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	return &ImageSource{frame: types.NewImageFrame(0, img)}, nil
}

func (s *ImageSource) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.frame, nil
}

func (s *ImageSource) FrameRate() float64 { return 0 }

func (s *ImageSource) Close() error { return nil }
