package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_connection_state",
		Help: "1 for the current realtime channel state, 0 otherwise.",
	}, []string{"state"})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnect_attempts_total",
		Help: "Dial attempts made after a failure or a lost connection.",
	})

	inboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_inbound_events_total",
		Help: "Inbound events grouped by name and decode result.",
	}, []string{"event", "result"})

	outboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_outbound_messages_total",
		Help: "Outbound messages grouped by name and result.",
	}, []string{"event", "result"})
)
