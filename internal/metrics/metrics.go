// Package metrics holds the Prometheus collectors shared across the service.
// Label sets are kept small and bounded: breaker names, fixed outcome strings
// and route patterns only.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequests counts requests by method, route pattern and status code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPLatency records request duration in seconds by method and route pattern.
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPInflight gauges requests currently being served.
	HTTPInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	// BreakerTransitions counts state transitions by breaker and target state.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"name", "to"},
	)

	// BatchRecords counts batch items by path (records|operations) and outcome.
	BatchRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_batch_items_total",
			Help: "Batch sync items processed by outcome.",
		},
		[]string{"path", "outcome"},
	)

	// AdmissionDenied counts rejected batch requests by reason.
	AdmissionDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_admission_denied_total",
			Help: "Batch requests rejected before processing.",
		},
		[]string{"reason"},
	)

	// LockOperations counts rack lock calls by operation and result.
	LockOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rack_lock_operations_total",
			Help: "Rack lock operations by result.",
		},
		[]string{"op", "result"},
	)

	// ConflictsDetected counts persisted conflicts by entity type.
	ConflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_conflicts_detected_total",
			Help: "Conflicts persisted by entity type.",
		},
		[]string{"entity_type"},
	)

	// AutoSyncEvents counts monitor events (check, restored, lost, triggered, completed, failed).
	AutoSyncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autosync_events_total",
			Help: "Auto-sync monitor events.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests, HTTPLatency, HTTPInflight,
		BreakerState, BreakerTransitions,
		BatchRecords, AdmissionDenied,
		LockOperations, ConflictsDetected,
		AutoSyncEvents,
	)
}
