// Package worker runs face detection and attribute inference in a python
// subprocess. Requests go over stdin, responses come back on a dedicated pipe
// (FD 3) so the child's prints and warnings never corrupt the protocol.
package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/andresmejia3/facecensus/internal/pipeline"
	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/andresmejia3/facecensus/internal/utils"
)

// Request opcodes. Every request is [op byte][len uint32 BE][payload] and is
// answered by [len uint32 BE][json].
const (
	opLoad       byte = 0x01 // cache a frame without running detection
	opDetect     byte = 0x02 // cache a frame and detect faces in it
	opAttributes byte = 0x03 // gender and age for a box of the cached frame
)

const maxResponse = 16 * 1024 * 1024

// Config locates the interpreter, the worker script and its models.
type Config struct {
	Python             string
	Script             string
	DetectionWeights   string
	AttributeWeights   string
	DetectionThreshold float64
}

// PythonWorker is one python process serving Detect and Infer calls. Calls
// are serialized.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu     sync.Mutex
	cached *types.Frame
}

type readyMessage struct {
	Ready bool   `json:"ready"`
	Error string `json:"error"`
}

type detectResponse struct {
	Faces []struct {
		BBox  types.BoundingBox `json:"bbox"`
		Score float64           `json:"score"`
		Kps   [][2]float64      `json:"kps"`
	} `json:"faces"`
}

type attributeResponse struct {
	Gender *int `json:"gender"`
	Age    *int `json:"age"`
}

// NewPythonWorker starts the script and waits until both models are loaded.
// Any failure is an ErrModelLoad that carries the python logs.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	args := []string{"-u", cfg.Script,
		"--detection-weights", cfg.DetectionWeights,
		"--attribute-weights", cfg.AttributeWeights,
	}
	if cfg.DetectionThreshold > 0 {
		args = append(args, "--threshold", strconv.FormatFloat(cfg.DetectionThreshold, 'f', -1, 64))
	}
	py := utils.NewSafeCommand(ctx, python, args...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create pipe: %w", pipeline.ErrModelLoad, err)
	}
	// The write end shows up as FD 3 in the child.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %w", pipeline.ErrModelLoad, err)
	}
	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("%w: worker %d: %w", pipeline.ErrModelLoad, id, err)
	}
	// Only the child may hold the write end, or EOF never arrives.
	w.Close()

	pw := &PythonWorker{ID: id, Cmd: py, Stdin: stdin, DataPipe: r}
	if err := pw.awaitReady(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("%w: worker %d: %w", pipeline.ErrModelLoad, id, py.WrapExit(err))
	}
	return pw, nil
}

func (w *PythonWorker) awaitReady() error {
	body, err := w.readMessage()
	if err != nil {
		return err
	}
	var msg readyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if msg.Error != "" {
		return errors.New(msg.Error)
	}
	if !msg.Ready {
		return errors.New("handshake: worker did not report ready")
	}
	return nil
}

// Communicate sends one request and returns the raw response body. A
// response of the form {"error": "..."} becomes an error.
func (w *PythonWorker) Communicate(op byte, payload []byte) ([]byte, error) {
	header := make([]byte, 5)
	header[0] = op
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Stdin.Write(header); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(payload); err != nil {
		return nil, err
	}

	body, err := w.readMessage()
	if err != nil {
		return nil, err
	}
	var res types.ErrorResult
	if json.Unmarshal(body, &res) == nil && res.Error != "" {
		return nil, fmt.Errorf("python worker error: %s", res.Error)
	}
	return body, nil
}

func (w *PythonWorker) readMessage() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		// A crash on import or model load shows up here.
		return nil, fmt.Errorf("read response header: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxResponse {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// Detect sends the frame and returns the faces found in it. The frame stays
// cached in the worker for the following Infer calls.
func (w *PythonWorker) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := frame.Bytes()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	body, err := w.Communicate(opDetect, data)
	if err != nil {
		w.cached = nil
		return nil, err
	}
	w.cached = frame

	var res detectResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	out := make([]types.Detection, 0, len(res.Faces))
	for _, f := range res.Faces {
		d := types.Detection{Box: f.BBox, Confidence: f.Score}
		for _, p := range f.Kps {
			d.Keypoints = append(d.Keypoints, types.Point{X: p[0], Y: p[1]})
		}
		out = append(out, d)
	}
	return out, nil
}

// Infer estimates gender and age for box. The frame is uploaded first unless
// it is the one the worker already holds.
func (w *PythonWorker) Infer(ctx context.Context, frame *types.Frame, box types.BoundingBox) (types.Gender, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cached != frame {
		data, err := frame.Bytes()
		if err != nil {
			return 0, 0, err
		}
		if _, err := w.Communicate(opLoad, data); err != nil {
			w.cached = nil
			return 0, 0, err
		}
		w.cached = frame
	}

	payload, err := json.Marshal(struct {
		BBox types.BoundingBox `json:"bbox"`
	}{box})
	if err != nil {
		return 0, 0, err
	}
	body, err := w.Communicate(opAttributes, payload)
	if err != nil {
		return 0, 0, err
	}

	var res attributeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, 0, fmt.Errorf("decode attributes: %w", err)
	}
	if res.Gender == nil || res.Age == nil {
		return 0, 0, errors.New("attribute response misses gender or age")
	}
	g := types.Gender(*res.Gender)
	if !g.Valid() {
		return 0, 0, fmt.Errorf("unknown gender code %d", *res.Gender)
	}
	return g, *res.Age, nil
}

// Close ends the worker by closing its stdin and waits for the process.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	if err := w.Cmd.Wait(); err != nil {
		return w.Cmd.WrapExit(err)
	}
	return nil
}
