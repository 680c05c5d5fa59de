// Package results holds the canonical set of deduplicated face observations
// for one stream and its line-oriented record format.
package results

import (
	"sync"

	"github.com/andresmejia3/facecensus/internal/geometry"
	"github.com/andresmejia3/facecensus/internal/types"
)

// Index answers "is there already a face here?" for the store. Implementations
// need not be safe for concurrent use; the store serializes access.
type Index interface {
	Nearby(box types.BoundingBox) bool
	Add(box types.BoundingBox)
}

// LinearIndex compares a candidate against every stored box in insertion
// order and stops at the first match.
type LinearIndex struct {
	Threshold float64
	boxes     []types.BoundingBox
}

// NewLinearIndex returns an empty index using center distance below threshold.
func NewLinearIndex(threshold float64) *LinearIndex {
	return &LinearIndex{Threshold: threshold}
}

func (l *LinearIndex) Nearby(box types.BoundingBox) bool {
	for _, b := range l.boxes {
		if geometry.IsNearby(box, b, l.Threshold) {
			return true
		}
	}
	return false
}

func (l *LinearIndex) Add(box types.BoundingBox) {
	l.boxes = append(l.boxes, box)
}

// Store is the append-only, ordered set of admitted observations.
type Store struct {
	mu    sync.Mutex
	obs   []types.FaceObservation
	index Index
}

// Option configures a Store.
type Option func(*Store)

// WithThreshold uses a LinearIndex with the given center distance.
func WithThreshold(threshold float64) Option {
	return func(s *Store) { s.index = NewLinearIndex(threshold) }
}

// WithIndex swaps the matching structure.
func WithIndex(idx Index) Option {
	return func(s *Store) { s.index = idx }
}

// NewStore creates an empty store. Without options it matches with
// geometry.DefaultThreshold.
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.index == nil {
		s.index = NewLinearIndex(geometry.DefaultThreshold)
	}
	return s
}

// InsertIfNew appends obs unless its box is near an already stored one.
// The test and the append happen under one lock, so concurrent callers can
// never both admit members of the same duplicate cluster.
func (s *Store) InsertIfNew(obs types.FaceObservation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index.Nearby(obs.BBox) {
		return false
	}
	s.obs = append(s.obs, obs)
	s.index.Add(obs.BBox)
	return true
}

// Observations returns a copy of the stored observations in insertion order.
func (s *Store) Observations() []types.FaceObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.FaceObservation, len(s.obs))
	copy(out, s.obs)
	return out
}

// Len returns the number of admitted observations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs)
}
