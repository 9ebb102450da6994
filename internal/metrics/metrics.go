// Package metrics provides Prometheus metrics for sync, indexing, retrieval
// and provider calls. Collectors register with the default registry and are
// exposed by `storekb serve` on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

const namespace = "storekb"

// Provider call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
)

var (
	// IndexEntries tracks vector index entries.
	// Labels: state (active, inactive), content_type
	IndexEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "entries",
			Help:      "Number of vector index entries by state and content type",
		},
		[]string{"state", "content_type"},
	)

	// IndexContentItems tracks distinct indexed content items per type.
	IndexContentItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "content_items",
			Help:      "Number of distinct active content items by content type",
		},
		[]string{"content_type"},
	)

	// SyncRuns counts finished sync operations.
	// Labels: operation, phase (completed, failed, cancelled)
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of finished sync operations by outcome",
		},
		[]string{"operation", "phase"},
	)

	// SyncDuration tracks sync operation wall time.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of sync operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"operation"},
	)

	// SyncItems counts items handled by sync operations.
	// Labels: result (indexed, removed, invalid, failed)
	SyncItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Total number of content items handled by sync, by result",
		},
		[]string{"result"},
	)

	// LockContention counts sync attempts rejected because the lock was held.
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "lock_contention_total",
			Help:      "Total number of sync attempts rejected by lock contention",
		},
	)

	// Embeddings counts chunk vectors by how they were obtained.
	// Labels: source (generated, reused)
	Embeddings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "embeddings_total",
			Help:      "Total number of chunk embeddings by source",
		},
		[]string{"source"},
	)

	// ProviderRequests counts HTTP calls to embedding and generation providers.
	// Labels: provider, op, outcome (ok, transient, fatal)
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider requests by outcome",
		},
		[]string{"provider", "op", "outcome"},
	)

	// ProviderLatency tracks provider request latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of provider requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)

	// RetrievalDuration tracks query-time retrieval latency.
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Duration of retrieval (embed + search) in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RetrievalResults tracks how many chunks each retrieval returned.
	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
)

// ObserveProvider records one provider request.
func ObserveProvider(provider, op, outcome string, elapsed time.Duration) {
	ProviderRequests.WithLabelValues(provider, op, outcome).Inc()
	ProviderLatency.WithLabelValues(provider, op).Observe(elapsed.Seconds())
}

// ObserveSyncRun records a finished sync operation.
func ObserveSyncRun(report *domain.SyncReport) {
	if report == nil {
		return
	}
	op := string(report.Operation)
	SyncRuns.WithLabelValues(op, string(report.Phase)).Inc()
	if !report.CompletedAt.IsZero() && !report.StartedAt.IsZero() {
		SyncDuration.WithLabelValues(op).Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())
	}

	totals := report.Totals()
	SyncItems.WithLabelValues("indexed").Add(float64(totals.Indexed))
	SyncItems.WithLabelValues("removed").Add(float64(totals.Removed))
	SyncItems.WithLabelValues("invalid").Add(float64(totals.Invalid))
	SyncItems.WithLabelValues("failed").Add(float64(totals.Failed))
}

// UpdateIndexHealth replaces the index gauges with a fresh snapshot.
func UpdateIndexHealth(h *domain.IndexHealth) {
	if h == nil {
		return
	}
	IndexEntries.Reset()
	IndexContentItems.Reset()

	for t, n := range h.ActiveByType {
		IndexEntries.WithLabelValues("active", string(t)).Set(float64(n))
	}
	for t, n := range h.InactiveByType {
		IndexEntries.WithLabelValues("inactive", string(t)).Set(float64(n))
	}
	for t, n := range h.ContentItemsByType {
		IndexContentItems.WithLabelValues(string(t)).Set(float64(n))
	}
}
