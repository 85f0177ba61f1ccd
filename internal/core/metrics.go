package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics exported by the server. The raw
// statistics counters live next to these as plain atomics; the Prometheus
// side exists for scraping.
type Metrics struct {
	Registry *prometheus.Registry

	// UDP plane metrics
	UDPReceived      prometheus.Counter
	UDPReceivedBytes prometheus.Counter
	RelayServed      prometheus.Counter
	RelayServedBytes prometheus.Counter

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsAccepted prometheus.Counter
	SessionsRejected prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		UDPReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "eunet_udp_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		UDPReceivedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "eunet_udp_received_bytes_total",
			Help: "Total number of UDP payload bytes received",
		}),
		RelayServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "eunet_relay_served_total",
			Help: "Total number of datagrams relayed between peers",
		}),
		RelayServedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "eunet_relay_served_bytes_total",
			Help: "Total number of bytes relayed between peers",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eunet_sessions_active",
			Help: "Current number of live sessions",
		}),
		SessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "eunet_sessions_accepted_total",
			Help: "Total number of sessions accepted",
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "eunet_sessions_rejected_total",
			Help: "Total number of connections rejected at capacity",
		}),
	}
}
