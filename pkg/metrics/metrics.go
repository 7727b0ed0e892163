// Package metrics holds the Prometheus collectors for rdfproof.
//
// Collectors are registered on a private registry owned by Metrics, so
// several databases (and tests) can live in one process. The server exposes
// the registry on /metrics through Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rdfproof"

// Metrics groups every collector.
type Metrics struct {
	registry *prometheus.Registry

	explainTargets  *prometheus.CounterVec
	explainRows     prometheus.Counter
	explainDuration prometheus.Histogram
	explainErrors   prometheus.Counter

	materializeDuration prometheus.Histogram
	inferredStatements  prometheus.Gauge
	explicitStatements  prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, together with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		explainTargets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explain_targets_total",
			Help:      "Explained target statements by outcome (explicit, identity, rule, none).",
		}, []string{"outcome"}),
		explainRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explain_rows_total",
			Help:      "Justification rows emitted.",
		}),
		explainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "explain_duration_seconds",
			Help:      "Latency of explain requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
		}),
		explainErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explain_errors_total",
			Help:      "Explain requests that failed.",
		}),
		materializeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "materialize_duration_seconds",
			Help:      "Duration of closure recomputation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		inferredStatements: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inferred_statements",
			Help:      "Statements in the implicit graph after the last materialization.",
		}),
		explicitStatements: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "explicit_statements",
			Help:      "Asserted statements after the last write.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTarget records how one target statement was explained.
func (m *Metrics) ObserveTarget(outcome string, rows int) {
	m.explainTargets.WithLabelValues(outcome).Inc()
	m.explainRows.Add(float64(rows))
}

// ObserveExplain records the latency of an explain request.
func (m *Metrics) ObserveExplain(d time.Duration, err error) {
	m.explainDuration.Observe(d.Seconds())
	if err != nil {
		m.explainErrors.Inc()
	}
}

// ObserveMaterialize records a closure recomputation.
func (m *Metrics) ObserveMaterialize(d time.Duration, inferred int) {
	m.materializeDuration.Observe(d.Seconds())
	m.inferredStatements.Set(float64(inferred))
}

// SetExplicit records the asserted statement count.
func (m *Metrics) SetExplicit(n int64) {
	m.explicitStatements.Set(float64(n))
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, statusClass(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
