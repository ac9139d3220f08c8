package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the gateway's Prometheus instruments.
type Metrics struct {
	InjectResults     *prometheus.CounterVec
	ConnectedSessions prometheus.Gauge
	RepliesRouted     prometheus.Counter
	RepliesDropped    prometheus.Counter
}

// NewMetrics creates and registers the gateway metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InjectResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentos",
			Subsystem: "gateway",
			Name:      "inject_total",
			Help:      "Inbound envelopes by pipeline outcome.",
		}, []string{"result"}),
		ConnectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentos",
			Subsystem: "gateway",
			Name:      "connected_sessions",
			Help:      "Currently connected WebSocket sessions.",
		}),
		RepliesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentos",
			Subsystem: "gateway",
			Name:      "replies_routed_total",
			Help:      "Replies delivered to a tracked session.",
		}),
		RepliesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentos",
			Subsystem: "gateway",
			Name:      "replies_dropped_total",
			Help:      "Replies with no tracked correlation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.InjectResults, m.ConnectedSessions, m.RepliesRouted, m.RepliesDropped)
	}
	return m
}
