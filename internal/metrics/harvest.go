package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Source outcomes recorded once per adapter per run.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// Persistence results.
const (
	PersistInserted = "inserted"
	PersistUpdated  = "updated"
	PersistFailed   = "failed"
)

// Harvest Prometheus metrics.
var (
	SourceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnharvest",
			Name:      "source_requests_total",
			Help:      "Adapter invocations by outcome",
		},
		[]string{"source", "outcome"},
	)

	SourceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vulnharvest",
			Name:      "source_request_duration_seconds",
			Help:      "Adapter search plus normalization duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		},
		[]string{"source"},
	)

	SourceRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnharvest",
			Name:      "source_records_total",
			Help:      "Normalized records produced per source",
		},
		[]string{"source"},
	)

	NormalizeSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnharvest",
			Name:      "normalize_skipped_total",
			Help:      "Raw items dropped during normalization",
		},
		[]string{"source", "reason"}, // "rejected" / "panic"
	)

	PersistenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnharvest",
			Name:      "persistence_total",
			Help:      "Reconciliation results per record",
		},
		[]string{"result"},
	)

	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnharvest",
			Name:      "searches_total",
			Help:      "Submitted searches by status",
		},
		[]string{"status"}, // "success" / "invalid" / "failed"
	)
)

var registerOnce sync.Once

// RegisterHarvestMetrics registers the harvest collectors with the default registry.
// Safe to call more than once.
func RegisterHarvestMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SourceRequestsTotal,
			SourceRequestDuration,
			SourceRecordsTotal,
			NormalizeSkippedTotal,
			PersistenceTotal,
			SearchesTotal,
		)
	})
}
