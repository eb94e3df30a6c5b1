package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photomap_uploads_total",
			Help: "Total number of uploads processed by the ingestion pipeline",
		},
		[]string{"result"}, // "success", "failure"
	)

	UploadStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photomap_upload_stage_failures_total",
			Help: "Fatal ingestion failures by pipeline stage",
		},
		[]string{"stage"},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photomap_upload_duration_seconds",
			Help:    "Time spent ingesting a single upload",
			Buckets: prometheus.DefBuckets,
		},
	)

	TranscodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photomap_transcodes_total",
			Help: "Container images transcoded to JPEG",
		},
		[]string{"result"},
	)

	GeocodeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photomap_geocode_requests_total",
			Help: "Reverse geocoding lookups by outcome",
		},
		[]string{"result"}, // "resolved", "empty", "failure", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photomap_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
