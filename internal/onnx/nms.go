package onnx

import (
	"sort"

	"github.com/andresmejia3/facecensus/internal/types"
)

// iou is intersection over union of two boxes in the same coordinate system.
func iou(a, b types.BoundingBox) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.Width()*a.Height() + b.Width()*b.Height() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// nms keeps the highest scoring detection of every group overlapping more
// than threshold. The result is sorted by descending confidence.
func nms(dets []types.Detection, threshold float64) []types.Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	keep := make([]types.Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		keep = append(keep, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if !suppressed[j] && iou(dets[i].Box, dets[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// anchorCenters lists the anchor centers of a feature map, row-major with
// numAnchors consecutive copies per location.
func anchorCenters(height, width, stride, numAnchors int) [][2]float64 {
	out := make([][2]float64, 0, height*width*numAnchors)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for a := 0; a < numAnchors; a++ {
				out = append(out, [2]float64{float64(x * stride), float64(y * stride)})
			}
		}
	}
	return out
}

// distance2bbox turns the distances to the four box sides into corners.
func distance2bbox(cx, cy float64, d []float32) types.BoundingBox {
	return types.Box(
		cx-float64(d[0]), cy-float64(d[1]),
		cx+float64(d[2]), cy+float64(d[3]),
	)
}
