// Package metric exposes the bridge's Prometheus metrics on a dedicated
// registry so the management HTTP server can serve them without pulling in
// default-registry noise from other libraries.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all bridge metrics.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived    *prometheus.CounterVec
	FramesForwarded   prometheus.Counter
	BusSendFailures   prometheus.Counter
	FramesFannedOut   prometheus.Counter
	ClientWriteErrors prometheus.Counter
	RecvQueueDropped  prometheus.Counter
	ClientsConnected  prometheus.Gauge
}

// New creates the metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Frames decoded from client connections",
			},
			[]string{"protocol"},
		),
		FramesForwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "frames",
				Name:      "forwarded_total",
				Help:      "Frames forwarded to the bus transport",
			},
		),
		BusSendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "bus",
				Name:      "send_failures_total",
				Help:      "Frames the bus transport refused",
			},
		),
		FramesFannedOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "frames",
				Name:      "fanned_out_total",
				Help:      "Per-client deliveries of bus-received frames",
			},
		),
		ClientWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "clients",
				Name:      "write_errors_total",
				Help:      "Fan-out writes that failed and closed a client",
			},
		),
		RecvQueueDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "bus",
				Name:      "recv_dropped_total",
				Help:      "Bus receive events dropped because the hand-off queue was full",
			},
		),
		ClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bridge",
				Subsystem: "clients",
				Name:      "connected",
				Help:      "Currently connected TCP clients",
			},
		),
	}

	m.registry.MustRegister(
		m.FramesReceived,
		m.FramesForwarded,
		m.BusSendFailures,
		m.FramesFannedOut,
		m.ClientWriteErrors,
		m.RecvQueueDropped,
		m.ClientsConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
