// Package metrics defines the Prometheus collectors for marker operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Mutation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	MarkersChanged    *prometheus.CounterVec

	// Ledger metrics
	LedgerFailures prometheus.Counter

	// Purge metrics
	PurgesOutstanding prometheus.Gauge
	PurgesResolved    *prometheus.CounterVec

	// Cache metrics
	CacheRebuilds        prometheus.Counter
	CacheRebuildDuration prometheus.Histogram
	CachedMarkers        prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skiptrack_operations_total",
				Help: "Total number of marker operations processed",
			},
			[]string{"operation"},
		),

		OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skiptrack_operation_errors_total",
				Help: "Total number of failed marker operations",
			},
			[]string{"operation", "kind"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skiptrack_operation_duration_seconds",
				Help:    "Duration of marker operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		MarkersChanged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skiptrack_markers_changed_total",
				Help: "Total number of marker rows written, by action",
			},
			[]string{"action"},
		),

		LedgerFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "skiptrack_ledger_failures_total",
				Help: "Total number of backup ledger writes that failed",
			},
		),

		PurgesOutstanding: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "skiptrack_purges_outstanding",
				Help: "Number of purged markers awaiting restore or ignore",
			},
		),

		PurgesResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skiptrack_purges_resolved_total",
				Help: "Total number of purged markers restored or ignored",
			},
			[]string{"resolution"},
		),

		CacheRebuilds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "skiptrack_cache_rebuilds_total",
				Help: "Total number of full marker cache rebuilds",
			},
		),

		CacheRebuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skiptrack_cache_rebuild_duration_seconds",
				Help:    "Duration of full marker cache rebuilds",
				Buckets: prometheus.DefBuckets,
			},
		),

		CachedMarkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "skiptrack_cached_markers",
				Help: "Number of markers held in the marker cache",
			},
		),
	}
}

// Observe records one operation and its outcome
func (m *Metrics) Observe(operation string, started time.Time, err error) {
	m.OperationsTotal.WithLabelValues(operation).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(operation, domain.KindOf(err).String()).Inc()
	}
}

// Changed counts marker rows written by an action
func (m *Metrics) Changed(action domain.ActionKind, n int) {
	if n > 0 {
		m.MarkersChanged.WithLabelValues(action.String()).Add(float64(n))
	}
}
