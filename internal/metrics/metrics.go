// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the relay's Prometheus collectors behind an explicit
// registry so tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	streamChunks    prometheus.Counter
}

// New creates and registers the relay metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "requests_total",
				Help:      "Inbound HTTP requests by route and status code.",
			},
			[]string{"route", "status"},
		),

		upstreamLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "chatrelay",
				Name:      "upstream_latency_seconds",
				Help:      "Latency of vendor chat calls until first response.",
				Buckets:   prometheus.DefBuckets,
			},
		),

		streamChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "stream_chunks_total",
				Help:      "Chunks emitted to streaming clients.",
			},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.upstreamLatency,
		m.streamChunks,
	)

	return m
}

// RecordRequest counts one finished inbound request.
func (m *Metrics) RecordRequest(route, status string) {
	m.requests.WithLabelValues(route, status).Inc()
}

// RecordUpstreamLatency observes one vendor chat call.
func (m *Metrics) RecordUpstreamLatency(seconds float64) {
	m.upstreamLatency.Observe(seconds)
}

// RecordStreamChunk counts one emitted streaming chunk.
func (m *Metrics) RecordStreamChunk() {
	m.streamChunks.Inc()
}

// Handler serves the exposition endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
