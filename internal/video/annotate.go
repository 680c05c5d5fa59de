package video

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/disintegration/imaging"
)

// Style decides how faces are marked in the output.
type Style string

const (
	StyleBox    Style = "box"    // outline, green for new faces and grey for repeats
	StyleBlack  Style = "black"  // solid fill
	StyleBlur   Style = "blur"   // gaussian blur
	StylePixel  Style = "pixel"  // mosaic
	StyleSecure Style = "secure" // fill with the average colour of the border
)

var (
	admittedColor  = color.NRGBA{R: 0, G: 220, B: 0, A: 255}
	duplicateColor = color.NRGBA{R: 160, G: 160, B: 160, A: 255}
)

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	switch st := Style(s); st {
	case StyleBox, StyleBlack, StyleBlur, StylePixel, StyleSecure:
		return st, nil
	}
	return "", fmt.Errorf("unknown style %q (want box, black, blur, pixel or secure)", s)
}

// Annotator marks faces on a copy of a frame.
type Annotator struct {
	Style Style
	// Strength is the line width for boxes, the blur sigma or the mosaic
	// block size.
	Strength int
}

// Annotate returns a copy of img with every face marked.
func (a Annotator) Annotate(img image.Image, faces []types.Face) *image.NRGBA {
	out := imaging.Clone(img)
	strength := a.Strength
	if strength < 1 {
		strength = 1
	}
	for _, f := range faces {
		rect := f.Box.Rect().Intersect(out.Bounds())
		if rect.Empty() {
			continue
		}
		switch a.Style {
		case StyleBlack:
			draw.Draw(out, rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
		case StyleBlur:
			blurred := imaging.Blur(imaging.Crop(out, rect), float64(strength))
			draw.Draw(out, rect, blurred, image.Point{}, draw.Src)
		case StylePixel:
			pixelate(out, rect, strength)
		case StyleSecure:
			draw.Draw(out, rect, image.NewUniform(borderAverage(out, rect)), image.Point{}, draw.Src)
		default:
			c := duplicateColor
			if f.Admitted {
				c = admittedColor
			}
			outline(out, rect, c, strength)
		}
	}
	return out
}

func outline(img *image.NRGBA, r image.Rectangle, c color.Color, width int) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}

func pixelate(img *image.NRGBA, r image.Rectangle, block int) {
	w, h := r.Dx()/block, r.Dy()/block
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	small := imaging.Resize(imaging.Crop(img, r), w, h, imaging.Box)
	big := imaging.Resize(small, r.Dx(), r.Dy(), imaging.NearestNeighbor)
	draw.Draw(img, r, big, image.Point{}, draw.Src)
}

// borderAverage averages the pixels directly around r, so a redaction
// blends into the background. Black when r touches every image edge.
func borderAverage(img *image.NRGBA, r image.Rectangle) color.NRGBA {
	var sr, sg, sb, n uint64
	add := func(x, y int) {
		if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
			return
		}
		c := img.NRGBAAt(x, y)
		sr += uint64(c.R)
		sg += uint64(c.G)
		sb += uint64(c.B)
		n++
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		add(x, r.Min.Y-1)
		add(x, r.Max.Y)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		add(r.Min.X-1, y)
		add(r.Max.X, y)
	}
	if n == 0 {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n), A: 255}
}
