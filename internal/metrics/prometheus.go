package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facecensus_frames_processed_total",
		Help: "Total number of frames run through the pipeline, by outcome",
	}, []string{"outcome"})

	DetectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facecensus_detections_total",
		Help: "Total number of faces returned by the detector",
	})

	ObservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facecensus_observations_total",
		Help: "Deduplication decisions, admitted or duplicate",
	}, []string{"decision"})

	InferenceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facecensus_inference_errors_total",
		Help: "Collaborator failures, by stage",
	}, []string{"stage"})

	FrameProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facecensus_frame_processing_duration_seconds",
		Help:    "Time spent on detection, attributes and deduplication for one frame",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	StoredObservations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facecensus_stored_observations",
		Help: "Number of observations in the current result store",
	})
)
