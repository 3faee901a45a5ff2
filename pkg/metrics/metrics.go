// Package metrics exposes supervisor counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the supervisor updates.
type Metrics struct {
	registry *prometheus.Registry

	Mutations         *prometheus.CounterVec
	Rollbacks         prometheus.Counter
	DetectionAttempts prometheus.Counter
	FirmwareStarts    prometheus.Counter
	LiveEndpoints     prometheus.Gauge
	ProxyRunning      prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ardupilot_manager",
			Name:      "endpoint_mutations_total",
			Help:      "Endpoint add/remove requests by operation and result.",
		}, []string{"op", "result"}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ardupilot_manager",
			Name:      "endpoint_rollbacks_total",
			Help:      "Times the live endpoint set was reset to a snapshot.",
		}),
		DetectionAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ardupilot_manager",
			Name:      "board_detection_attempts_total",
			Help:      "Board detection attempts.",
		}),
		FirmwareStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ardupilot_manager",
			Name:      "firmware_starts_total",
			Help:      "Firmware process launches, respawns included.",
		}),
		LiveEndpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ardupilot_manager",
			Name:      "live_endpoints",
			Help:      "Endpoints registered with the router.",
		}),
		ProxyRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ardupilot_manager",
			Name:      "proxy_running",
			Help:      "1 once the router has been started.",
		}),
	}
	reg.MustRegister(m.Mutations, m.Rollbacks, m.DetectionAttempts, m.FirmwareStarts, m.LiveEndpoints, m.ProxyRunning)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
