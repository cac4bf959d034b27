// Package telemetry holds the Prometheus collectors and the OpenTelemetry
// tracer provider.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Connections      *prometheus.GaugeVec
	GateRejections   *prometheus.CounterVec
	MessagesIngested prometheus.Counter
	MessagesRejected *prometheus.CounterVec
	Broadcasts       *prometheus.CounterVec
}

// NewMetrics registers every collector plus the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "live_connections",
			Help:      "Open real-time connections by namespace.",
		}, []string{"namespace"}),
		GateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "gate_rejections_total",
			Help:      "Connection attempts rejected before upgrade, by reason.",
		}, []string{"reason"}),
		MessagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_ingested_total",
			Help:      "Messages persisted and broadcast.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_rejected_total",
			Help:      "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "broadcasts_total",
			Help:      "Events fanned out to a room, by event name.",
		}, []string{"event"}),
	}
	reg.MustRegister(
		m.Connections,
		m.GateRejections,
		m.MessagesIngested,
		m.MessagesRejected,
		m.Broadcasts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
