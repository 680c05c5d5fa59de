package types

import (
	"encoding/json"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBoxNormalize(t *testing.T) {
	got := Box(10, 20, 0, 5).Normalize()
	assert.Equal(t, Box(0, 5, 10, 20), got)

	same := Box(1, 2, 3, 4)
	assert.Equal(t, same, same.Normalize())
}

func TestBoundingBoxFinite(t *testing.T) {
	assert.True(t, Box(0, 0, 1, 1).Finite())
	assert.False(t, Box(math.NaN(), 0, 1, 1).Finite())
	assert.False(t, Box(0, 0, math.Inf(1), 1).Finite())
}

func TestBoundingBoxJSON(t *testing.T) {
	data, err := json.Marshal(Box(1.5, 2, 3, 4.25))
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5,2,3,4.25]`, string(data))

	var b BoundingBox
	require.NoError(t, json.Unmarshal([]byte(`[0,0,10,10]`), &b))
	assert.Equal(t, Box(0, 0, 10, 10), b)

	assert.Error(t, json.Unmarshal([]byte(`[0,0,10]`), &b))
	assert.Error(t, json.Unmarshal([]byte(`{"x1":0}`), &b))
}

func TestObservationNullTime(t *testing.T) {
	data, err := json.Marshal(FaceObservation{BBox: Box(0, 0, 1, 1), Age: 3, Gender: Male})
	require.NoError(t, err)
	assert.JSONEq(t, `{"bbox":[0,0,1,1],"confidence":0,"age":3,"gender":1,"time":null}`, string(data))
}

func TestParseGender(t *testing.T) {
	tests := []struct {
		in      string
		want    Gender
		wantErr bool
	}{
		{"Male", Male, false},
		{"female", Female, false},
		{" M ", Male, false},
		{"0", Female, false},
		{"other", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseGender(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "Male", Male.String())
	assert.Equal(t, "Gender(7)", Gender(7).String())
}

func TestFrameEncodeDecode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)

	f := NewImageFrame(3, img)
	data, err := f.Bytes()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	g := NewEncodedFrame(3, data)
	decoded, err := g.Image()
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	_, err = NewEncodedFrame(0, nil).Image()
	assert.Error(t, err)
}
