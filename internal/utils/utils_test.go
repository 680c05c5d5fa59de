package utils

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVideoID(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "video_test")
	require.NoError(t, err)
	_, err = tmp.Write([]byte("fake video content"))
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	id, err := GenerateVideoID(tmp.Name())
	require.NoError(t, err)
	assert.Len(t, id, 64)

	id2, err := GenerateVideoID(tmp.Name())
	require.NoError(t, err)
	assert.Equal(t, id, id2, "hash must be deterministic")

	f, err := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte(" modification"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	id3, err := GenerateVideoID(tmp.Name())
	require.NoError(t, err)
	assert.NotEqual(t, id, id3, "hash must change with the file")

	_, err = GenerateVideoID(tmp.Name() + ".missing")
	assert.Error(t, err)
}

func TestFmtTime(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		in   *float64
		want string
	}{
		{nil, "-"},
		{f(0), "00:00:00.000"},
		{f(0.5), "00:00:00.500"},
		{f(61.25), "00:01:01.250"},
		{f(3723.0), "01:02:03.000"},
		{f(-1), "-"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FmtTime(tt.in))
	}
}

func TestShowError(t *testing.T) {
	var out bytes.Buffer
	cmd := NewSafeCommand(context.Background(), "ffmpeg")
	cmd.Stderr.WriteString("Invalid data found when processing input\n")

	ShowError(&out, "decoding failed", errors.New("exit status 1"), cmd)
	assert.Contains(t, out.String(), "decoding failed")
	assert.Contains(t, out.String(), "exit status 1")
	assert.Contains(t, out.String(), "Invalid data found")

	out.Reset()
	ShowError(&out, "plain", nil, nil)
	assert.NotContains(t, out.String(), "PROCESS LOGS")
}

func TestWrapExit(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "python3")
	assert.NoError(t, cmd.WrapExit(nil))

	base := errors.New("exit status 2")
	cmd.Stderr.WriteString("ModuleNotFoundError: insightface\n")
	err := cmd.WrapExit(base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "ModuleNotFoundError")
}
