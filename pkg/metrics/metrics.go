// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamDuration tracks response stream duration by terminal status.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_stream_duration_seconds",
			Help:    "Response stream duration in seconds",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"status"},
	)

	// StreamsTotal tracks completed streams by terminal status.
	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_streams_total",
			Help: "Total response streams by terminal status",
		},
		[]string{"status"},
	)

	// StreamsActive tracks streams currently in flight.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_streams_active",
			Help: "Number of response streams currently in flight",
		},
	)

	// TokensStreamed tracks token events received.
	TokensStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_tokens_streamed_total",
			Help: "Total token events received across all streams",
		},
	)

	// DecodeWarnings tracks malformed frames skipped by the decoder.
	DecodeWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_decode_warnings_total",
			Help: "Malformed stream frames skipped by the decoder",
		},
	)

	// StoreOperations tracks conversation store operations.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_store_operations_total",
			Help: "Conversation store operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// ProbeResults tracks availability probe outcomes.
	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_probe_results_total",
			Help: "Availability probe results by status",
		},
		[]string{"status"},
	)
)

// Stream terminal status labels.
const (
	StatusCommitted  = "committed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusIncomplete = "incomplete"
)

// RecordStream records a finished stream.
func RecordStream(status string, durationSeconds float64) {
	StreamDuration.WithLabelValues(status).Observe(durationSeconds)
	StreamsTotal.WithLabelValues(status).Inc()
}

// RecordStoreOp records a store operation outcome.
func RecordStoreOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StoreOperations.WithLabelValues(operation, outcome).Inc()
}
