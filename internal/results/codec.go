package results

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facecensus/internal/types"
)

const maxLineSize = 1024 * 1024

// Encode writes one JSON object per line.
func Encode(w io.Writer, obs []types.FaceObservation) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, o := range obs {
		// Encoder.Encode terminates each value with '\n'
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("encode observation %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// Decode parses a record written by Encode. Blank lines are skipped; unknown
// keys are rejected so a foreign file is not mistaken for a record.
func Decode(r io.Reader) ([]types.FaceObservation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var out []types.FaceObservation
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()

		var o types.FaceObservation
		if err := dec.Decode(&o); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if dec.More() {
			return nil, fmt.Errorf("line %d: trailing data after object", line)
		}
		out = append(out, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return out, nil
}

// WriteFile replaces path with the encoded record. The data goes to a
// temporary file in the same directory first, so readers never see a
// half-written record.
func WriteFile(path string, obs []types.FaceObservation) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = Encode(tmp, obs); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile loads a record written by WriteFile.
func ReadFile(path string) ([]types.FaceObservation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	obs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return obs, nil
}

// FileRecorder persists the final observations to a record file.
type FileRecorder struct {
	Path string
}

func (r FileRecorder) Name() string { return "file:" + r.Path }

func (r FileRecorder) Record(_ context.Context, obs []types.FaceObservation) error {
	return WriteFile(r.Path, obs)
}
