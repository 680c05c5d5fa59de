package results

import (
	"fmt"

	"github.com/andresmejia3/facecensus/internal/types"
)

// Filter selects observations by inclusive age range and, optionally, gender.
type Filter struct {
	MinAge int
	MaxAge int
	Gender *types.Gender // nil matches every gender
}

// Validate rejects inverted or negative ranges.
func (f Filter) Validate() error {
	if f.MinAge < 0 {
		return fmt.Errorf("min age must be >= 0, got %d", f.MinAge)
	}
	if f.MaxAge < f.MinAge {
		return fmt.Errorf("max age %d is below min age %d", f.MaxAge, f.MinAge)
	}
	return nil
}

func (f Filter) Match(o types.FaceObservation) bool {
	if o.Age < f.MinAge || o.Age > f.MaxAge {
		return false
	}
	return f.Gender == nil || *f.Gender == o.Gender
}

// Apply keeps matching observations, preserving order.
func (f Filter) Apply(obs []types.FaceObservation) []types.FaceObservation {
	var out []types.FaceObservation
	for _, o := range obs {
		if f.Match(o) {
			out = append(out, o)
		}
	}
	return out
}
