package hub

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons recorded on EventsDropped.
const (
	dropUnauthenticated = "unauthenticated"
	dropMalformed       = "malformed"
	dropRateLimited     = "rate_limited"
	dropBufferFull      = "buffer_full"
	dropBacklog         = "backlog"
)

// Metrics are the hub's prometheus collectors.
type Metrics struct {
	Connections        prometheus.Gauge
	OnlineUsers        prometheus.Gauge
	PresenceBroadcasts prometheus.Counter
	MessagesPersisted  prometheus.Counter
	MessagesRelayed    prometheus.Counter
	LivenessTimeouts   prometheus.Counter
	EventsDropped      *prometheus.CounterVec
	StoreFailures      *prometheus.CounterVec
}

// NewMetrics creates the hub collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "connections",
			Help: "Registered WebSocket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "online_users",
			Help: "Distinct identities in the last presence broadcast.",
		}),
		PresenceBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "presence_broadcasts_total",
			Help: "Presence snapshots broadcast to all connections.",
		}),
		MessagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "messages_persisted_total",
			Help: "Messages written to the message store.",
		}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "messages_relayed_total",
			Help: "Message frames queued to recipient connections.",
		}),
		LivenessTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "liveness_timeouts_total",
			Help: "Connections terminated for missing a pong deadline.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "events_dropped_total",
			Help: "Inbound or outbound events dropped, by reason.",
		}, []string{"reason"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairchat", Subsystem: "hub", Name: "store_failures_total",
			Help: "Failed message or attachment writes, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Connections,
			m.OnlineUsers,
			m.PresenceBroadcasts,
			m.MessagesPersisted,
			m.MessagesRelayed,
			m.LivenessTimeouts,
			m.EventsDropped,
			m.StoreFailures,
		)
	}
	return m
}
