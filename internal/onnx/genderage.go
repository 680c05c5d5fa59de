package onnx

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/andresmejia3/facecensus/internal/pipeline"
	"github.com/andresmejia3/facecensus/internal/types"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	attrInputSize = 96
	attrExpand    = 1.5
)

// GenderAge is the genderage attribute model: a 96x96 crop in, two gender
// logits and age/100 out.
type GenderAge struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewGenderAge loads the model at path. Init must have been called.
func NewGenderAge(path string, threads int) (*GenderAge, error) {
	inNames, outNames, _, err := ioNames(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrModelLoad, path, err)
	}
	if len(inNames) != 1 || len(outNames) != 1 {
		return nil, fmt.Errorf("%w: %s: expected 1 input and 1 output, got %d and %d",
			pipeline.ErrModelLoad, path, len(inNames), len(outNames))
	}

	g := &GenderAge{}
	g.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, attrInputSize, attrInputSize))
	if err != nil {
		return nil, fmt.Errorf("%w: input tensor: %w", pipeline.ErrModelLoad, err)
	}
	g.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		g.Destroy()
		return nil, fmt.Errorf("%w: output tensor: %w", pipeline.ErrModelLoad, err)
	}

	options, err := newSessionOptions(threads)
	if err != nil {
		g.Destroy()
		return nil, fmt.Errorf("%w: %w", pipeline.ErrModelLoad, err)
	}
	defer options.Destroy()

	g.session, err = ort.NewAdvancedSession(path, inNames, outNames,
		[]ort.ArbitraryTensor{g.input}, []ort.ArbitraryTensor{g.output}, options)
	if err != nil {
		g.Destroy()
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrModelLoad, path, err)
	}
	return g, nil
}

// Infer estimates gender and age of the face inside box.
func (g *GenderAge) Infer(ctx context.Context, frame *types.Frame, box types.BoundingBox) (types.Gender, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	img, err := frame.Image()
	if err != nil {
		return 0, 0, err
	}
	crop := cropSquare(img, box.X1, box.Y1, box.X2, box.Y2, attrExpand, attrInputSize)

	g.mu.Lock()
	defer g.mu.Unlock()

	// The model normalizes internally and takes raw 0..255 RGB.
	fillNCHW(crop, g.input.GetData(), 0, 1)
	if err := g.session.Run(); err != nil {
		return 0, 0, fmt.Errorf("genderage inference: %w", err)
	}
	gender, age := decodeGenderAge(g.output.GetData())
	return gender, age, nil
}

func decodeGenderAge(pred []float32) (types.Gender, int) {
	gender := types.Female
	if pred[1] > pred[0] {
		gender = types.Male
	}
	return gender, int(math.Round(float64(pred[2]) * 100))
}

// Destroy releases the session and tensors.
func (g *GenderAge) Destroy() {
	if g.session != nil {
		g.session.Destroy()
	}
	if g.input != nil {
		g.input.Destroy()
	}
	if g.output != nil {
		g.output.Destroy()
	}
}
