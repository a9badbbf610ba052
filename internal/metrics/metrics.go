// Package metrics exposes Prometheus instrumentation for invocations and
// memory builds. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds baton's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	invocations   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	retries       prometheus.Counter
	contextBuilds *prometheus.CounterVec
}

// New creates and registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "baton_invocations_total",
				Help: "Total number of assistant invocations by terminal status",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "baton_invocation_duration_seconds",
				Help:    "Wall-clock duration of assistant invocations",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "baton_invocations_in_flight",
			Help: "Number of assistant invocations currently running",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "baton_assistant_retries_total",
			Help: "Total number of assistant calls retried after a transient failure",
		}),
		contextBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "baton_context_builds_total",
				Help: "Total number of memory builds by mode",
			},
			[]string{"mode"},
		),
	}
	m.Registry.MustRegister(
		m.invocations,
		m.duration,
		m.inFlight,
		m.retries,
		m.contextBuilds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// InvocationStarted marks one invocation in flight. Call the returned func when it ends.
func (m *Metrics) InvocationStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ObserveInvocation records a finished invocation.
func (m *Metrics) ObserveInvocation(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(d.Seconds())
}

// Retry records one retried assistant call.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// ContextBuilt records one memory build.
func (m *Metrics) ContextBuilt(mode string) {
	if m == nil {
		return
	}
	m.contextBuilds.WithLabelValues(mode).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
