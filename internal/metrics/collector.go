// Package metrics exposes Prometheus metrics for extraction runs and
// reconciliation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fluxion"

// Collector holds all metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	// Counters
	runs          *prometheus.CounterVec
	rows          *prometheus.CounterVec
	retries       *prometheus.CounterVec
	gapsOpened    *prometheus.CounterVec
	gapsResolved  *prometheus.CounterVec
	overCoverage  *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	archiveErrors prometheus.Counter

	// Histograms
	chunkDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Execution runs reaching a terminal state",
		}, []string{"kind", "state", "error_kind"}),

		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows by pipeline stage",
		}, []string{"kind", "stage"}), // extracted, loaded, rejected

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Chunk retries by cause",
		}, []string{"kind", "error_kind"}),

		gapsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gaps_opened_total",
			Help:      "Under-covered days detected by reconciliation",
		}, []string{"kind"}),

		gapsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gaps_resolved_total",
			Help:      "Open gaps resolved by a matching recheck",
		}, []string{"kind"}),

		overCoverage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "over_coverage_total",
			Help:      "Days where the warehouse holds more rows than the source reports",
		}, []string{"kind"}),

		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Reconciliation count probes that failed",
		}, []string{"kind"}),

		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Batches that could not be archived",
		}),

		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time to extract, normalize and load one chunk",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
	}

	c.registry.MustRegister(
		c.runs,
		c.rows,
		c.retries,
		c.gapsOpened,
		c.gapsResolved,
		c.overCoverage,
		c.probeFailures,
		c.archiveErrors,
		c.chunkDuration,
	)
	c.registry.MustRegister(collectors.NewGoCollector())
	c.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a terminal run.
func (c *Collector) RecordRun(kind, state, errorKind string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(kind, state, errorKind).Inc()
}

// RecordRows adds n rows for one stage.
func (c *Collector) RecordRows(kind, stage string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.rows.WithLabelValues(kind, stage).Add(float64(n))
}

// RecordRetry counts one retry.
func (c *Collector) RecordRetry(kind, errorKind string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(kind, errorKind).Inc()
}

// RecordChunkDuration observes one chunk attempt.
func (c *Collector) RecordChunkDuration(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.chunkDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordGapOpened counts an under-covered day.
func (c *Collector) RecordGapOpened(kind string) {
	if c == nil {
		return
	}
	c.gapsOpened.WithLabelValues(kind).Inc()
}

// RecordGapResolved counts a resolved gap.
func (c *Collector) RecordGapResolved(kind string) {
	if c == nil {
		return
	}
	c.gapsResolved.WithLabelValues(kind).Inc()
}

// RecordOverCoverage counts an over-covered day.
func (c *Collector) RecordOverCoverage(kind string) {
	if c == nil {
		return
	}
	c.overCoverage.WithLabelValues(kind).Inc()
}

// RecordProbeFailure counts a failed reconciliation probe.
func (c *Collector) RecordProbeFailure(kind string) {
	if c == nil {
		return
	}
	c.probeFailures.WithLabelValues(kind).Inc()
}

// RecordArchiveFailure counts a batch that could not be archived.
func (c *Collector) RecordArchiveFailure() {
	if c == nil {
		return
	}
	c.archiveErrors.Inc()
}
