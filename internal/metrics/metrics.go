// Package metrics provides Prometheus instrumentation for the messaging core:
// live connection and room gauges, message throughput by delivery stage, and
// send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of realtime connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medchat_connections_active",
		Help: "Current number of active realtime connections",
	})

	// MessagesTotal counts messages by stage: "sent", "delivered", "read" or
	// "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medchat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"})

	// RoomJoinsTotal counts join attempts by result: "allowed" or "denied".
	RoomJoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medchat_room_joins_total",
		Help: "Total number of room join attempts",
	}, []string{"result"})

	// SendLatency records the time from accepting a send to the delivered
	// broadcast.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "medchat_send_latency_seconds",
		Help:    "Message send latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PushNotificationsTotal counts web push attempts by result.
	PushNotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medchat_push_notifications_total",
		Help: "Total number of web push notifications attempted",
	}, []string{"result"})

	// AuditEventsTotal counts audit entries by sink and result.
	AuditEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medchat_audit_events_total",
		Help: "Total number of audit events recorded",
	}, []string{"sink", "result"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		MessagesTotal,
		RoomJoinsTotal,
		SendLatency,
		PushNotificationsTotal,
		AuditEventsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
