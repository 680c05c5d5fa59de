package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCloser wraps a bytes.Buffer so in-memory buffers can stand in for the
// OS pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func respond(t *testing.T, pipe *MockCloser, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, binary.Write(pipe, binary.BigEndian, uint32(len(body))))
	pipe.Write(body)
}

// request reads one request back from what the worker sent.
func request(t *testing.T, sent *bytes.Buffer) (byte, []byte) {
	t.Helper()
	op, err := sent.ReadByte()
	require.NoError(t, err)
	var n uint32
	require.NoError(t, binary.Read(sent, binary.BigEndian, &n))
	payload := make([]byte, n)
	_, err = sent.Read(payload)
	require.NoError(t, err)
	return op, payload
}

func newMockWorker() (*PythonWorker, *MockCloser, *MockCloser) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	return &PythonWorker{ID: 1, Stdin: stdin, DataPipe: data}, stdin, data
}

func TestDetect(t *testing.T) {
	w, stdin, data := newMockWorker()
	respond(t, data, map[string]any{
		"faces": []map[string]any{
			{"bbox": []float64{10, 20, 50, 80}, "score": 0.93, "kps": [][]float64{{20, 40}, {40, 40}}},
		},
	})

	frame := types.NewEncodedFrame(7, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	dets, err := w.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, types.Box(10, 20, 50, 80), dets[0].Box)
	assert.Equal(t, 0.93, dets[0].Confidence)
	assert.Equal(t, []types.Point{{X: 20, Y: 40}, {X: 40, Y: 40}}, dets[0].Keypoints)

	op, payload := request(t, stdin.Buffer)
	assert.Equal(t, opDetect, op)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, payload)
	assert.Zero(t, stdin.Len(), "exactly one request")
}

func TestInferReusesCachedFrame(t *testing.T) {
	w, stdin, data := newMockWorker()
	frame := types.NewEncodedFrame(0, []byte{0xFF, 0xD8, 0xFF, 0xD9})

	respond(t, data, map[string]any{"faces": []any{}})
	respond(t, data, map[string]any{"gender": 1, "age": 34})

	_, err := w.Detect(context.Background(), frame)
	require.NoError(t, err)
	g, age, err := w.Infer(context.Background(), frame, types.Box(1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, types.Male, g)
	assert.Equal(t, 34, age)

	op, _ := request(t, stdin.Buffer)
	assert.Equal(t, opDetect, op)
	op, payload := request(t, stdin.Buffer)
	assert.Equal(t, opAttributes, op, "no reload for the cached frame")
	assert.JSONEq(t, `{"bbox":[1,2,3,4]}`, string(payload))
}

func TestInferLoadsNewFrame(t *testing.T) {
	w, stdin, data := newMockWorker()
	frame := types.NewEncodedFrame(3, []byte{0x01})

	respond(t, data, map[string]any{"ok": true})
	respond(t, data, map[string]any{"gender": 0, "age": 22})

	g, age, err := w.Infer(context.Background(), frame, types.Box(0, 0, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, types.Female, g)
	assert.Equal(t, 22, age)

	op, _ := request(t, stdin.Buffer)
	assert.Equal(t, opLoad, op)
	op, _ = request(t, stdin.Buffer)
	assert.Equal(t, opAttributes, op)
}

func TestWorkerError(t *testing.T) {
	w, _, data := newMockWorker()
	errMsg := "Python Exception: Import Error"
	respond(t, data, map[string]any{"error": errMsg})

	_, err := w.Detect(context.Background(), types.NewEncodedFrame(0, []byte("frame")))
	require.Error(t, err)
	assert.Equal(t, "python worker error: "+errMsg, err.Error())
	assert.Nil(t, w.cached)
}

func TestInferRejectsBadResponses(t *testing.T) {
	frame := types.NewEncodedFrame(0, []byte{0x01})

	w, _, data := newMockWorker()
	w.cached = frame
	respond(t, data, map[string]any{"gender": 5, "age": 30})
	_, _, err := w.Infer(context.Background(), frame, types.Box(0, 0, 1, 1))
	assert.ErrorContains(t, err, "unknown gender")

	w, _, data = newMockWorker()
	w.cached = frame
	respond(t, data, map[string]any{"age": 30})
	_, _, err = w.Infer(context.Background(), frame, types.Box(0, 0, 1, 1))
	assert.Error(t, err)
}

func TestTruncatedResponse(t *testing.T) {
	w, _, data := newMockWorker()
	binary.Write(data, binary.BigEndian, uint32(100))
	data.WriteString("short")

	_, err := w.Communicate(opDetect, []byte("x"))
	assert.Error(t, err)
}

func TestAwaitReady(t *testing.T) {
	w, _, data := newMockWorker()
	respond(t, data, map[string]any{"ready": true})
	assert.NoError(t, w.awaitReady())

	w, _, data = newMockWorker()
	respond(t, data, map[string]any{"error": "weights/det_10g.onnx not found"})
	assert.ErrorContains(t, w.awaitReady(), "det_10g.onnx")

	w, _, _ = newMockWorker()
	assert.Error(t, w.awaitReady(), "worker died before answering")
}

func TestContextCancelled(t *testing.T) {
	w, stdin, _ := newMockWorker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Detect(ctx, types.NewEncodedFrame(0, []byte{1}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stdin.Len())
}
