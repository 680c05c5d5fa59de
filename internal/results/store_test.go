package results

import (
	"sync"
	"testing"

	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsAt(box types.BoundingBox, ts float64) types.FaceObservation {
	return types.FaceObservation{BBox: box, Confidence: 0.9, Age: 30, Gender: types.Male, Time: &ts}
}

func TestInsertIfNewScenario(t *testing.T) {
	s := NewStore(WithThreshold(50))

	// Frame 1: two faces far apart
	assert.True(t, s.InsertIfNew(obsAt(types.Box(0, 0, 10, 10), 0)))
	assert.True(t, s.InsertIfNew(obsAt(types.Box(100, 100, 110, 110), 0)))

	// Frame 2: ~2.8px from the first face
	assert.False(t, s.InsertIfNew(obsAt(types.Box(2, 2, 12, 12), 1)))
	assert.Equal(t, 2, s.Len())

	got := s.Observations()
	require.Len(t, got, 2)
	assert.Equal(t, types.Box(0, 0, 10, 10), got[0].BBox)
	assert.Equal(t, types.Box(100, 100, 110, 110), got[1].BBox)
}

func TestInsertIfNewIdempotent(t *testing.T) {
	s := NewStore()
	o := obsAt(types.Box(10, 10, 60, 60), 1.5)
	assert.True(t, s.InsertIfNew(o))
	assert.False(t, s.InsertIfNew(o))
	assert.Equal(t, 1, s.Len())
}

func TestFirstSightingWins(t *testing.T) {
	s := NewStore()
	first := obsAt(types.Box(0, 0, 10, 10), 0)
	first.Age = 20
	later := obsAt(types.Box(1, 1, 11, 11), 3)
	later.Age = 40
	later.Confidence = 0.99

	s.InsertIfNew(first)
	s.InsertIfNew(later)

	got := s.Observations()
	require.Len(t, got, 1)
	assert.Equal(t, 20, got[0].Age)
	assert.Equal(t, 0.0, *got[0].Time)
}

func TestObservationsIsCopy(t *testing.T) {
	s := NewStore()
	s.InsertIfNew(obsAt(types.Box(0, 0, 10, 10), 0))
	got := s.Observations()
	got[0].Age = 99
	assert.Equal(t, 30, s.Observations()[0].Age)
}

func TestConcurrentInsertAdmitsOnce(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			off := float64(i % 5)
			if s.InsertIfNew(obsAt(types.Box(off, off, 10+off, 10+off), 0)) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, s.Len())
}

type countingIndex struct {
	LinearIndex
	calls int
}

func (c *countingIndex) Nearby(box types.BoundingBox) bool {
	c.calls++
	return c.LinearIndex.Nearby(box)
}

func TestWithIndex(t *testing.T) {
	idx := &countingIndex{LinearIndex: LinearIndex{Threshold: 5}}
	s := NewStore(WithIndex(idx))
	s.InsertIfNew(obsAt(types.Box(0, 0, 10, 10), 0))
	s.InsertIfNew(obsAt(types.Box(20, 0, 30, 10), 0))
	assert.Equal(t, 2, idx.calls)
	assert.Equal(t, 2, s.Len())
}

func TestFilter(t *testing.T) {
	female := types.Female
	obs := []types.FaceObservation{
		{Age: 25, Gender: types.Male},
		{Age: 30, Gender: types.Female},
		{Age: 20, Gender: types.Male},
		{Age: 45, Gender: types.Female},
	}

	all := Filter{MinAge: 20, MaxAge: 30}
	assert.Len(t, all.Apply(obs), 3)

	onlyFemale := Filter{MinAge: 20, MaxAge: 30, Gender: &female}
	got := onlyFemale.Apply(obs)
	require.Len(t, got, 1)
	assert.Equal(t, 30, got[0].Age)

	assert.Error(t, Filter{MinAge: 30, MaxAge: 20}.Validate())
	assert.Error(t, Filter{MinAge: -1, MaxAge: 20}.Validate())
	assert.NoError(t, all.Validate())
}
