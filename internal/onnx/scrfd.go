package onnx

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/facecensus/internal/pipeline"
	"github.com/andresmejia3/facecensus/internal/types"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	detInputSize  = 640
	detNumAnchors = 2
	detMean       = 127.5
	detStd        = 128.0

	DefaultScoreThreshold = 0.5
	DefaultNMSThreshold   = 0.4
)

var detStrides = []int{8, 16, 32}

// DetectorOptions tune the SCRFD detector.
type DetectorOptions struct {
	ScoreThreshold float64
	NMSThreshold   float64
	Threads        int
}

// SCRFD is the det_10g face detector. It expects nine outputs: scores, box
// distances and keypoint distances for strides 8, 16 and 32.
type SCRFD struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	anchors [][][2]float64
	opts    DetectorOptions
}

// NewSCRFD loads the model at path. Init must have been called.
func NewSCRFD(path string, opts DetectorOptions) (*SCRFD, error) {
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = DefaultScoreThreshold
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = DefaultNMSThreshold
	}

	inNames, outNames, ranks, err := ioNames(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrModelLoad, path, err)
	}
	if len(inNames) != 1 || len(outNames) != 3*len(detStrides) {
		return nil, fmt.Errorf("%w: %s: expected 1 input and %d outputs, got %d and %d",
			pipeline.ErrModelLoad, path, 3*len(detStrides), len(inNames), len(outNames))
	}

	d := &SCRFD{opts: opts}
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("%w: input tensor: %w", pipeline.ErrModelLoad, err)
	}

	// Outputs are grouped by kind, each group ordered by stride.
	widths := []int64{1, 4, 10}
	d.outputs = make([]*ort.Tensor[float32], len(outNames))
	for kind, width := range widths {
		for i, stride := range detStrides {
			n := int64(detInputSize/stride) * int64(detInputSize/stride) * detNumAnchors
			idx := kind*len(detStrides) + i
			shape := ort.NewShape(1, n, width)
			if ranks[idx] == 2 {
				shape = ort.NewShape(n, width)
			}
			t, err := ort.NewEmptyTensor[float32](shape)
			if err != nil {
				d.Destroy()
				return nil, fmt.Errorf("%w: output tensor: %w", pipeline.ErrModelLoad, err)
			}
			d.outputs[idx] = t
		}
	}
	for _, stride := range detStrides {
		side := detInputSize / stride
		d.anchors = append(d.anchors, anchorCenters(side, side, stride, detNumAnchors))
	}

	options, err := newSessionOptions(opts.Threads)
	if err != nil {
		d.Destroy()
		return nil, fmt.Errorf("%w: %w", pipeline.ErrModelLoad, err)
	}
	defer options.Destroy()

	outs := make([]ort.ArbitraryTensor, len(d.outputs))
	for i, t := range d.outputs {
		outs[i] = t
	}
	d.session, err = ort.NewAdvancedSession(path, inNames, outNames,
		[]ort.ArbitraryTensor{d.input}, outs, options)
	if err != nil {
		d.Destroy()
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrModelLoad, path, err)
	}
	return d, nil
}

// Detect finds faces in frame. Boxes and keypoints are in frame pixels.
func (d *SCRFD) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := frame.Image()
	if err != nil {
		return nil, err
	}
	canvas, scale := letterbox(img, detInputSize)

	d.mu.Lock()
	defer d.mu.Unlock()

	fillNCHW(canvas, d.input.GetData(), detMean, detStd)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("scrfd inference: %w", err)
	}
	return d.decode(scale), nil
}

func (d *SCRFD) decode(scale float64) []types.Detection {
	n := len(detStrides)
	var dets []types.Detection
	for i, stride := range detStrides {
		scores := d.outputs[i].GetData()
		boxes := d.outputs[n+i].GetData()
		kps := d.outputs[2*n+i].GetData()
		dets = append(dets, decodeStride(scores, boxes, kps, d.anchors[i], stride, d.opts.ScoreThreshold, scale)...)
	}
	return nms(dets, d.opts.NMSThreshold)
}

// decodeStride turns one feature map's raw outputs into detections in
// source image pixels.
func decodeStride(scores, boxes, kps []float32, anchors [][2]float64, stride int, threshold, scale float64) []types.Detection {
	var out []types.Detection
	s := float32(stride)
	for i, score := range scores {
		if float64(score) < threshold || i >= len(anchors) {
			continue
		}
		cx, cy := anchors[i][0], anchors[i][1]

		dist := make([]float32, 4)
		for k := range dist {
			dist[k] = boxes[i*4+k] * s
		}
		box := distance2bbox(cx, cy, dist)
		box = types.Box(box.X1/scale, box.Y1/scale, box.X2/scale, box.Y2/scale)

		det := types.Detection{Box: box, Confidence: float64(score)}
		if len(kps) >= (i+1)*10 {
			for p := 0; p < 5; p++ {
				det.Keypoints = append(det.Keypoints, types.Point{
					X: (cx + float64(kps[i*10+2*p]*s)) / scale,
					Y: (cy + float64(kps[i*10+2*p+1]*s)) / scale,
				})
			}
		}
		out = append(out, det)
	}
	return out
}

// Destroy releases the session and tensors.
func (d *SCRFD) Destroy() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	destroyTensors(d.outputs)
}
