package geometry

import (
	"math"
	"testing"

	"github.com/andresmejia3/facecensus/internal/types"
)

func TestIsNearby(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.BoundingBox
		threshold float64
		want      bool
	}{
		{
			name:      "Same box",
			a:         types.Box(0, 0, 10, 10),
			b:         types.Box(0, 0, 10, 10),
			threshold: DefaultThreshold,
			want:      true,
		},
		{
			name:      "Small shift",
			a:         types.Box(0, 0, 10, 10),
			b:         types.Box(2, 2, 12, 12), // ~2.83 px
			threshold: DefaultThreshold,
			want:      true,
		},
		{
			name:      "Far apart",
			a:         types.Box(0, 0, 10, 10),
			b:         types.Box(100, 100, 110, 110),
			threshold: DefaultThreshold,
			want:      false,
		},
		{
			name:      "Exactly at threshold is not nearby",
			a:         types.Box(0, 0, 10, 10),
			b:         types.Box(30, 40, 40, 50), // 3-4-5 triangle, distance 50
			threshold: 50,
			want:      false,
		},
		{
			name:      "Just inside threshold",
			a:         types.Box(0, 0, 10, 10),
			b:         types.Box(30, 39.9, 40, 49.9),
			threshold: 50,
			want:      true,
		},
		{
			name:      "Different sizes, same center",
			a:         types.Box(40, 40, 60, 60),
			b:         types.Box(0, 0, 100, 100),
			threshold: 1,
			want:      true,
		},
		{
			name:      "NaN coordinate",
			a:         types.Box(math.NaN(), 0, 10, 10),
			b:         types.Box(0, 0, 10, 10),
			threshold: DefaultThreshold,
			want:      false,
		},
		{
			name:      "Zero threshold",
			a:         types.Box(0, 0, 10, 10),
			b:         types.Box(0, 0, 10, 10),
			threshold: 0,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNearby(tt.a, tt.b, tt.threshold); got != tt.want {
				t.Errorf("IsNearby(%v, %v, %v) = %v, want %v", tt.a, tt.b, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestIsNearbySymmetric(t *testing.T) {
	boxes := []types.BoundingBox{
		types.Box(0, 0, 10, 10),
		types.Box(2, 2, 12, 12),
		types.Box(30, 40, 40, 50),
		types.Box(100, 100, 110, 110),
		types.Box(-20, 5, 0, 15),
	}
	for _, threshold := range []float64{1, 10, 50, 200} {
		for _, a := range boxes {
			for _, b := range boxes {
				if IsNearby(a, b, threshold) != IsNearby(b, a, threshold) {
					t.Errorf("IsNearby not symmetric for %v, %v at %v", a, b, threshold)
				}
			}
		}
	}
}

func TestIsNearbyReflexive(t *testing.T) {
	a := types.Box(3, 7, 90, 120)
	for _, threshold := range []float64{1e-9, 0.5, 50, 1e6} {
		if !IsNearby(a, a, threshold) {
			t.Errorf("IsNearby(a, a, %v) = false, want true", threshold)
		}
	}
}

func TestDistance(t *testing.T) {
	got := Distance(types.Box(0, 0, 10, 10), types.Box(2, 2, 12, 12))
	if math.Abs(got-math.Sqrt(8)) > 1e-9 {
		t.Errorf("Distance() = %v, want %v", got, math.Sqrt(8))
	}
}
