package onnx

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// letterbox fits img into a size x size black canvas, anchored top-left,
// keeping the aspect ratio. scale maps source pixels to canvas pixels.
func letterbox(img image.Image, size int) (*image.NRGBA, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	newW, newH := size, size
	if float64(h)/float64(w) > 1 {
		newW = int(float64(size) * float64(w) / float64(h))
	} else {
		newH = int(float64(size) * float64(h) / float64(w))
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	canvas := imaging.New(size, size, color.Black)
	canvas = imaging.Paste(canvas, resized, image.Point{})
	return canvas, float64(newH) / float64(h)
}

// cropSquare cuts a square of side max(w,h)*expand around the box center,
// padding with black where it leaves the image, and resizes it to size.
func cropSquare(img image.Image, x1, y1, x2, y2, expand float64, size int) *image.NRGBA {
	cx, cy := (x1+x2)/2, (y1+y2)/2
	side := math.Max(x2-x1, y2-y1) * expand
	if side < 1 {
		side = 1
	}
	half := side / 2
	region := image.Rect(
		int(math.Round(cx-half)), int(math.Round(cy-half)),
		int(math.Round(cx+half)), int(math.Round(cy+half)),
	)
	if region.Dx() < 1 || region.Dy() < 1 {
		region.Max = region.Min.Add(image.Pt(1, 1))
	}

	canvas := imaging.New(region.Dx(), region.Dy(), color.Black)
	b := img.Bounds()
	if inside := region.Intersect(b); !inside.Empty() {
		part := imaging.Crop(img, inside)
		canvas = imaging.Paste(canvas, part, inside.Min.Sub(region.Min))
	}
	return imaging.Resize(canvas, size, size, imaging.Linear)
}

// fillNCHW writes img (RGB order) into dst as planar channels, applying
// (v - mean) / std.
func fillNCHW(img *image.NRGBA, dst []float32, mean, std float32) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			p := row[x*4:]
			dst[i] = (float32(p[0]) - mean) / std
			dst[plane+i] = (float32(p[1]) - mean) / std
			dst[2*plane+i] = (float32(p[2]) - mean) / std
		}
	}
}
