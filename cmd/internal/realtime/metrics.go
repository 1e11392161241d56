package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core's Prometheus collectors. A nil *Metrics disables
// instrumentation (tests construct components without it).
type Metrics struct {
	OnlineUsers       prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RejectedTotal     *prometheus.CounterVec
	MessagesSent      prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesSeen      prometheus.Counter
	GroupMessages     prometheus.Counter
}

// NewMetrics constructs and registers the core collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zap_online_users",
			Help: "Number of users currently registered in the presence map.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zap_ws_connections_total",
			Help: "Accepted websocket connections.",
		}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zap_ws_rejected_total",
			Help: "Rejected websocket handshakes by reason.",
		}, []string{"reason"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zap_messages_sent_total",
			Help: "Direct messages accepted and persisted.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zap_messages_delivered_total",
			Help: "Direct messages advanced to delivered.",
		}),
		MessagesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zap_messages_seen_total",
			Help: "Direct messages advanced to seen.",
		}),
		GroupMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zap_group_messages_total",
			Help: "Group messages broadcast to rooms (system messages included).",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OnlineUsers,
			m.ConnectionsTotal,
			m.RejectedTotal,
			m.MessagesSent,
			m.MessagesDelivered,
			m.MessagesSeen,
			m.GroupMessages,
		)
	}
	return m
}
