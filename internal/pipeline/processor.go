// Package pipeline turns frames into deduplicated face observations.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/andresmejia3/facecensus/internal/metrics"
	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/types"
	"go.uber.org/zap"
)

// Detector finds faces in a frame. Order of the returned detections is
// whatever the model produces.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error)
}

// AttributeModel estimates gender and age for one face of a frame.
type AttributeModel interface {
	Infer(ctx context.Context, frame *types.Frame, box types.BoundingBox) (types.Gender, int, error)
}

// Observer is told about every observation admitted to a store.
type Observer interface {
	ObservationAdmitted(ctx context.Context, obs types.FaceObservation) error
}

// FrameResult describes what happened to every face of one frame.
type FrameResult struct {
	Index     int
	Timestamp *float64
	Faces     []types.Face
}

// Admitted counts the faces that became new observations.
func (r FrameResult) Admitted() int {
	n := 0
	for _, f := range r.Faces {
		if f.Admitted {
			n++
		}
	}
	return n
}

// Processor runs detection and attribute inference on a frame and offers
// each face to a result store.
type Processor struct {
	detector   Detector
	attributes AttributeModel
	observers  []Observer
	logger     *zap.Logger
}

// NewProcessor wires the two model collaborators. A nil logger discards logs.
func NewProcessor(detector Detector, attributes AttributeModel, logger *zap.Logger, observers ...Observer) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		detector:   detector,
		attributes: attributes,
		observers:  observers,
		logger:     logger,
	}
}

// ProcessFrame detects faces in frame, infers their attributes and inserts
// every face not near an existing observation into store. timestamp is nil
// when the stream has no usable frame rate.
//
// A collaborator error aborts the frame and is returned wrapped in
// ErrInference. Faces of that frame admitted before the failure stay in the
// store.
func (p *Processor) ProcessFrame(ctx context.Context, frame *types.Frame, store *results.Store, timestamp *float64) (FrameResult, error) {
	start := time.Now()
	defer func() { metrics.FrameProcessingDuration.Observe(time.Since(start).Seconds()) }()

	res := FrameResult{Index: frame.Index, Timestamp: timestamp}

	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		metrics.InferenceErrorsTotal.WithLabelValues("detect").Inc()
		return res, fmt.Errorf("%w: detect frame %d: %w", ErrInference, frame.Index, err)
	}
	metrics.DetectionsTotal.Add(float64(len(detections)))

	for i, det := range detections {
		if !det.Box.Finite() || math.IsNaN(det.Confidence) || math.IsInf(det.Confidence, 0) {
			p.logger.Warn("dropping detection with non-finite values",
				zap.Int("frame", frame.Index),
				zap.Int("detection", i),
			)
			continue
		}
		det.Box = det.Box.Normalize()
		det.Confidence = math.Min(math.Max(det.Confidence, 0), 1)

		gender, age, err := p.attributes.Infer(ctx, frame, det.Box)
		if err != nil {
			metrics.InferenceErrorsTotal.WithLabelValues("attributes").Inc()
			return res, fmt.Errorf("%w: attributes for face %d of frame %d: %w", ErrInference, i, frame.Index, err)
		}
		if age < 0 {
			age = 0
		}

		obs := types.FaceObservation{
			BBox:       det.Box,
			Confidence: det.Confidence,
			Age:        age,
			Gender:     gender,
			Time:       copyTime(timestamp),
		}

		admitted := store.InsertIfNew(obs)
		res.Faces = append(res.Faces, types.Face{Detection: det, Age: age, Gender: gender, Admitted: admitted})

		if !admitted {
			metrics.ObservationsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		metrics.ObservationsTotal.WithLabelValues("admitted").Inc()
		p.logger.Debug("new face",
			zap.Int("frame", frame.Index),
			zap.Int("age", age),
			zap.Stringer("gender", gender),
			zap.Float64("confidence", det.Confidence),
		)
		p.notify(ctx, obs)
	}

	metrics.StoredObservations.Set(float64(store.Len()))
	return res, nil
}

func (p *Processor) notify(ctx context.Context, obs types.FaceObservation) {
	for _, o := range p.observers {
		if err := o.ObservationAdmitted(ctx, obs); err != nil {
			p.logger.Warn("observer failed", zap.Error(err))
		}
	}
}

func copyTime(t *float64) *float64 {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
