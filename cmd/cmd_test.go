package cmd

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facecensus/internal/pipeline"
	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/store"
	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOpts(input string) scanOptions {
	return scanOptions{
		Input:              input,
		Style:              "box",
		Strength:           2,
		Threshold:          50,
		Backend:            "onnx",
		DetectionThreshold: 0.5,
	}
}

func TestValidateScanFlags(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	photo := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(clip, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(photo, []byte("x"), 0644))

	tests := []struct {
		name    string
		mutate  func(o *scanOptions)
		wantErr string
	}{
		{name: "valid video", mutate: func(o *scanOptions) {}},
		{name: "camera skips stat", mutate: func(o *scanOptions) { o.Input = "0" }},
		{name: "image to image", mutate: func(o *scanOptions) { o.Input = photo; o.OutputPath = filepath.Join(dir, "out.png") }},
		{name: "backend is case insensitive", mutate: func(o *scanOptions) { o.Backend = "PYTHON" }},
		{name: "empty input", mutate: func(o *scanOptions) { o.Input = "" }, wantErr: "empty video source"},
		{name: "missing file", mutate: func(o *scanOptions) { o.Input = filepath.Join(dir, "nope.mp4") }, wantErr: "does not exist"},
		{name: "directory", mutate: func(o *scanOptions) { o.Input = dir }, wantErr: "directory"},
		{name: "zero threshold", mutate: func(o *scanOptions) { o.Threshold = 0 }, wantErr: "threshold"},
		{name: "detection threshold above one", mutate: func(o *scanOptions) { o.DetectionThreshold = 1.5 }, wantErr: "detection threshold"},
		{name: "negative fps", mutate: func(o *scanOptions) { o.FrameRate = -1 }, wantErr: "fps"},
		{name: "unknown backend", mutate: func(o *scanOptions) { o.Backend = "tensorrt" }, wantErr: "unknown backend"},
		{name: "unknown style", mutate: func(o *scanOptions) { o.Style = "sparkles" }, wantErr: "unknown style"},
		{name: "zero strength", mutate: func(o *scanOptions) { o.Strength = 0 }, wantErr: "strength"},
		{name: "bad metrics port", mutate: func(o *scanOptions) { o.MetricsPort = 70000 }, wantErr: "metrics port"},
		{name: "output overwrites input", mutate: func(o *scanOptions) { o.OutputPath = clip }, wantErr: "differ"},
		{name: "record overwrites input", mutate: func(o *scanOptions) { o.RecordPath = clip }, wantErr: "differ"},
		{name: "image output for video", mutate: func(o *scanOptions) { o.OutputPath = filepath.Join(dir, "out.jpg") }, wantErr: "must be an image"},
		{name: "video output for image", mutate: func(o *scanOptions) { o.Input = photo; o.OutputPath = filepath.Join(dir, "out.mp4") }, wantErr: "must be an image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOpts(clip)
			tt.mutate(&opts)
			src, err := validateScanFlags(&opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(opts.Input) == "0", src.IsCamera())
			assert.Equal(t, strings.ToLower(opts.Backend), opts.Backend)
		})
	}
}

func TestBuildFilter(t *testing.T) {
	f, err := buildFilter(20, 30, "all")
	require.NoError(t, err)
	assert.Nil(t, f.Gender)

	f, err = buildFilter(20, 30, "Male")
	require.NoError(t, err)
	require.NotNil(t, f.Gender)
	assert.Equal(t, types.Male, *f.Gender)

	_, err = buildFilter(30, 20, "all")
	assert.Error(t, err)
	_, err = buildFilter(0, 10, "robot")
	assert.Error(t, err)
}

func TestRunFilterFromFile(t *testing.T) {
	ts := 1.5
	record := filepath.Join(t.TempDir(), "results.jsonl")
	require.NoError(t, results.WriteFile(record, []types.FaceObservation{
		{BBox: types.Box(0, 0, 10, 10), Confidence: 0.9, Age: 25, Gender: types.Male, Time: &ts},
		{BBox: types.Box(100, 0, 110, 10), Confidence: 0.8, Age: 25, Gender: types.Female, Time: &ts},
		{BBox: types.Box(200, 0, 210, 10), Confidence: 0.7, Age: 60, Gender: types.Male},
	}))

	var out bytes.Buffer
	err := runFilter(context.Background(), &out, filterOptions{Input: record, MinAge: 20, MaxAge: 30, Gender: "male"})
	require.NoError(t, err)
	assert.Equal(t, "Age: 25, Gender: Male, Time: 00:00:01.500\n", out.String())

	out.Reset()
	err = runFilter(context.Background(), &out, filterOptions{Input: record, MinAge: 50, MaxAge: 120, Gender: "all"})
	require.NoError(t, err)
	assert.Equal(t, "Age: 60, Gender: Male, Time: -\n", out.String())

	out.Reset()
	err = runFilter(context.Background(), &out, filterOptions{Input: record, MinAge: 90, MaxAge: 99, Gender: "all"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No faces match")
}

func TestRunFilterErrors(t *testing.T) {
	var out bytes.Buffer
	err := runFilter(context.Background(), &out, filterOptions{MaxAge: 10, Gender: "all"})
	assert.Error(t, err)

	err = runFilter(context.Background(), &out, filterOptions{Input: filepath.Join(t.TempDir(), "missing.jsonl"), MaxAge: 10})
	assert.Error(t, err)

	old := DB
	DB = nil
	defer func() { DB = old }()
	err = runFilter(context.Background(), &out, filterOptions{ScanID: "abc", MaxAge: 10})
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestPrintScans(t *testing.T) {
	var out bytes.Buffer
	printScans(&out, nil)
	assert.Contains(t, out.String(), "No scans found")

	out.Reset()
	printScans(&out, []store.ScanSummary{
		{Scan: store.Scan{ID: "scan-1", Source: "clip.mp4", Frames: 300, StartedAt: time.Now()}, Observations: 4},
		{Scan: store.Scan{ID: "scan-2", Source: "camera:0", Cancelled: true, StartedAt: time.Now()}},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "scan-1")
	assert.Contains(t, lines[2], "complete")
	assert.Contains(t, lines[3], "partial")
}

func TestListWithoutDatabase(t *testing.T) {
	old := DB
	DB = nil
	defer func() { DB = old }()
	assert.ErrorIs(t, runList(context.Background(), &bytes.Buffer{}), errNoDatabase)
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false}
	for in, want := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(in)), &out, "sure?")
		assert.Equal(t, want, got, "input %q", in)
		assert.Equal(t, "sure? [y/N]: ", out.String())
	}
}

func TestPrintScanSummary(t *testing.T) {
	var out bytes.Buffer
	st := pipeline.Stats{Frames: 16, Detections: 2, Duplicates: 1, SkippedFrames: 3, Cancelled: true}
	printScanSummary(&out, st, 1, scanOptions{RecordPath: "results.jsonl"})
	s := out.String()
	assert.Contains(t, s, "Frames Processed:        16")
	assert.Contains(t, s, "Distinct Faces:          1")
	assert.Contains(t, s, "Skipped Frames:          3")
	assert.Contains(t, s, "results are partial")
	assert.Contains(t, s, "results.jsonl")
	assert.NotContains(t, s, "Annotated Output")
}
