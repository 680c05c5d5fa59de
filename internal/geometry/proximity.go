// Package geometry decides whether two face boxes belong to the same physical
// face by comparing the distance between their centers.
package geometry

import (
	"math"

	"github.com/andresmejia3/facecensus/internal/types"
)

// DefaultThreshold is the center distance, in pixels, under which two boxes
// are treated as the same face.
const DefaultThreshold = 50.0

// Center returns the midpoint of b.
func Center(b types.BoundingBox) (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Distance is the Euclidean distance between the centers of a and b.
func Distance(a, b types.BoundingBox) float64 {
	ax, ay := Center(a)
	bx, by := Center(b)
	return math.Hypot(ax-bx, ay-by)
}

// IsNearby reports whether the centers of a and b are strictly closer than
// threshold. Box size plays no part, so two people standing close together
// merge and a face whose center drifts past threshold counts again.
// Non-finite input or a non-positive threshold never matches.
func IsNearby(a, b types.BoundingBox, threshold float64) bool {
	if !(threshold > 0) || math.IsInf(threshold, 1) {
		return false
	}
	d := Distance(a, b)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return false
	}
	return d < threshold
}
