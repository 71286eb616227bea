// Package metrics exports the Prometheus gauges and counters the hub
// updates as sessions, rooms, and messages come and go. The teacher
// tracked a single live-topic expvar.Int; this generalizes that to the
// handful of gauges a one-to-one chat core actually needs to watch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LiveSessions is the number of currently attached transport sessions.
	LiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatcore",
		Name:      "live_sessions",
		Help:      "Number of currently attached hub sessions.",
	})

	// LiveRooms is the number of conversation rooms with at least one joined session.
	LiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatcore",
		Name:      "live_rooms",
		Help:      "Number of conversation rooms with at least one attached session.",
	})

	// MessagesSent counts messages successfully persisted by the message service.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Name:      "messages_sent_total",
		Help:      "Total number of messages persisted by send().",
	})

	// ReadTransitions counts MessageRead status transitions, labeled by target status.
	ReadTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatcore",
		Name:      "read_transitions_total",
		Help:      "Total number of MessageRead status transitions, by target status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(LiveSessions, LiveRooms, MessagesSent, ReadTransitions)
}
