// Package observability provides the process logger and Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "adplan"

// Metrics holds the pipeline collectors. Every method is safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// Graph client
	GraphAttempts *prometheus.CounterVec
	GraphRetries  *prometheus.CounterVec

	// Fetch
	FetchUnits  *prometheus.CounterVec
	RowsFetched *prometheus.CounterVec

	// Resolve and store
	RowsDropped   *prometheus.CounterVec
	RowsWritten   prometheus.Counter
	WriteFailures prometheus.Counter

	// Runs
	SyncDuration    *prometheus.HistogramVec
	ItemsClassified *prometheus.CounterVec
}

// NewMetrics registers every collector on a dedicated registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		GraphAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "attempts_total",
			Help:      "Graph API attempts by outcome",
		}, []string{"outcome"}),
		GraphRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "retries_total",
			Help:      "Graph API retries scheduled by failure class",
		}, []string{"class"}),
		FetchUnits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "units_total",
			Help:      "Insights fetch units by level and outcome",
		}, []string{"level", "outcome"}),
		RowsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "rows_total",
			Help:      "Insights rows parsed by level",
		}, []string{"level"}),
		RowsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "rows_dropped_total",
			Help:      "Rows dropped during entity resolution by reason",
		}, []string{"reason"}),
		RowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows_written_total",
			Help:      "Rows written to the metrics store",
		}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_failures_total",
			Help:      "Rows that failed to write after the retry",
		}),
		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Account sync duration by outcome",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"}),
		ItemsClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "items_classified_total",
			Help:      "Catalog items classified by decision label",
		}, []string{"label"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveGraphAttempt(outcome string) {
	if m == nil {
		return
	}
	m.GraphAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGraphRetry(class string) {
	if m == nil {
		return
	}
	m.GraphRetries.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveUnit(level string, outcome string, rows int) {
	if m == nil {
		return
	}
	m.FetchUnits.WithLabelValues(level, outcome).Inc()
	if rows > 0 {
		m.RowsFetched.WithLabelValues(level).Add(float64(rows))
	}
}

func (m *Metrics) AddDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) AddWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsWritten.Add(float64(n))
}

func (m *Metrics) AddWriteFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.WriteFailures.Add(float64(n))
}

func (m *Metrics) ObserveSync(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SyncDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDecision(label string) {
	if m == nil {
		return
	}
	m.ItemsClassified.WithLabelValues(label).Inc()
}
