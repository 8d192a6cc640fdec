// Package metrics declares the Prometheus collectors used by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator metrics
var (
	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "derivative_pipeline_workflow_runs_total",
			Help: "Total number of coordinator runs by terminal state",
		},
		[]string{"workflow", "state"},
	)

	WorkflowFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "derivative_pipeline_workflow_failures_total",
			Help: "Total number of failed coordinator runs by failure kind",
		},
		[]string{"workflow", "kind"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "derivative_pipeline_workflow_duration_seconds",
			Help:    "Coordinator run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"workflow"},
	)

	DerivativeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "derivative_pipeline_derivative_bytes",
			Help:    "Size of written derivatives in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10),
		},
		[]string{"workflow"},
	)

	ScratchFilesOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "derivative_pipeline_scratch_files_outstanding",
			Help: "Number of scratch files currently allocated",
		},
	)
)

// Trigger metrics
var (
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "derivative_pipeline_events_received_total",
			Help: "Total number of object events received by routing decision",
		},
		[]string{"route"},
	)
)

// Fetch metrics
var (
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "derivative_pipeline_fetch_attempts_total",
			Help: "Total number of fetch strategy attempts",
		},
		[]string{"strategy", "outcome"},
	)

	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "derivative_pipeline_fetch_retries_total",
			Help: "Total number of retried fetch chains",
		},
	)

	FetchRetriesExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "derivative_pipeline_fetch_retries_exhausted_total",
			Help: "Total number of fetches that failed after all retries",
		},
	)
)

// Preload metrics
var (
	PreloadQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "derivative_pipeline_preload_queued",
			Help: "Number of URLs waiting in preload queues",
		},
	)

	PreloadInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "derivative_pipeline_preload_in_flight",
			Help: "Number of preload fetches currently in flight",
		},
	)

	PreloadResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "derivative_pipeline_preload_results_total",
			Help: "Total number of settled preload fetches",
		},
		[]string{"outcome"}, // loaded, failed, discarded
	)
)
