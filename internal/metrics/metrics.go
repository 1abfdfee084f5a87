// Package metrics holds the Prometheus collectors for fetch and render work.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts    *prometheus.CounterVec
	eventsFetched    *prometheus.CounterVec
	graphicsRendered prometheus.Counter
	graphicsFailed   prometheus.Counter
	lastBatchEvents  prometheus.Gauge
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsgen_fetch_attempts_total",
		Help: "Event fetch HTTP attempts by source and outcome.",
	}, []string{"source", "outcome"})
	m.eventsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsgen_events_fetched_total",
		Help: "Event records received by source.",
	}, []string{"source"})
	m.graphicsRendered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apsgen_graphics_rendered_total",
		Help: "Event graphics rendered successfully.",
	})
	m.graphicsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apsgen_graphics_failed_total",
		Help: "Event graphics skipped because rendering or writing failed.",
	})
	m.lastBatchEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apsgen_last_batch_events",
		Help: "Number of events in the most recent batch.",
	})

	m.registry.MustRegister(
		m.fetchAttempts,
		m.eventsFetched,
		m.graphicsRendered,
		m.graphicsFailed,
		m.lastBatchEvents,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FetchAttempt(source, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) EventsFetched(source string, n int) {
	if m == nil {
		return
	}
	m.eventsFetched.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) GraphicRendered() {
	if m == nil {
		return
	}
	m.graphicsRendered.Inc()
}

func (m *Metrics) GraphicFailed() {
	if m == nil {
		return
	}
	m.graphicsFailed.Inc()
}

func (m *Metrics) BatchSize(n int) {
	if m == nil {
		return
	}
	m.lastBatchEvents.Set(float64(n))
}
