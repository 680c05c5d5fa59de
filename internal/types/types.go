package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // still images may be PNG
	"math"
	"strings"
)

// BoundingBox is a face box in pixel space of the source frame.
// It serializes as [x1, y1, x2, y2].
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// Box builds a BoundingBox from corner coordinates.
func Box(x1, y1, x2, y2 float64) BoundingBox {
	return BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Normalize swaps inverted corners so that X1 <= X2 and Y1 <= Y2.
func (b BoundingBox) Normalize() BoundingBox {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Finite reports whether every coordinate is a real number.
func (b BoundingBox) Finite() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (b BoundingBox) Width() float64  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Rect rounds the box to an integer rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	)
}

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("bbox: expected 4 coordinates, got %d", len(raw))
	}
	*b = BoundingBox{X1: raw[0], Y1: raw[1], X2: raw[2], Y2: raw[3]}
	return nil
}

// Point is a facial landmark in pixel space.
type Point struct {
	X, Y float64
}

// Detection is one face returned by a detector.
type Detection struct {
	Box        BoundingBox
	Confidence float64
	Keypoints  []Point
}

// Gender is the attribute model's categorical output. The integer codes are
// part of the persisted record format.
type Gender int

const (
	Female Gender = 0
	Male   Gender = 1
)

func (g Gender) String() string {
	switch g {
	case Female:
		return "Female"
	case Male:
		return "Male"
	default:
		return fmt.Sprintf("Gender(%d)", int(g))
	}
}

// Valid reports whether g is one of the known codes.
func (g Gender) Valid() bool {
	return g == Female || g == Male
}

// ParseGender accepts "male"/"female" (any case) or the codes "1"/"0".
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "1":
		return Male, nil
	case "female", "f", "0":
		return Female, nil
	}
	return 0, fmt.Errorf("unknown gender %q", s)
}

// FaceObservation is one admitted, deduplicated face. Time is nil in
// single-image mode.
type FaceObservation struct {
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Age        int         `json:"age"`
	Gender     Gender      `json:"gender"`
	Time       *float64    `json:"time"`
}

// Face is a detection enriched with attributes, as seen in one frame.
type Face struct {
	Detection
	Age      int
	Gender   Gender
	Admitted bool
}

// Frame is a single decoded (or still encoded) video frame.
// Backends that talk to other processes use Bytes, native ones use Image.
type Frame struct {
	Index int
	data  []byte
	img   image.Image
}

// NewEncodedFrame wraps JPEG/PNG bytes.
func NewEncodedFrame(index int, data []byte) *Frame {
	return &Frame{Index: index, data: data}
}

// NewImageFrame wraps an already decoded image.
func NewImageFrame(index int, img image.Image) *Frame {
	return &Frame{Index: index, img: img}
}

// Image decodes the frame on first use.
func (f *Frame) Image() (image.Image, error) {
	if f.img != nil {
		return f.img, nil
	}
	if len(f.data) == 0 {
		return nil, fmt.Errorf("frame %d has no data", f.Index)
	}
	img, _, err := image.Decode(bytes.NewReader(f.data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", f.Index, err)
	}
	f.img = img
	return img, nil
}

// Bytes returns the encoded frame, JPEG-encoding a decoded image if needed.
func (f *Frame) Bytes() ([]byte, error) {
	if len(f.data) > 0 {
		return f.data, nil
	}
	if f.img == nil {
		return nil, fmt.Errorf("frame %d has no data", f.Index)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Index, err)
	}
	f.data = buf.Bytes()
	return f.data, nil
}

// ErrorResult captures the error object returned by the python worker on failure
type ErrorResult struct {
	Error string `json:"error"`
}
