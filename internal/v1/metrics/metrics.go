package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat service.
//
// Naming convention: namespace_subsystem_name
// - namespace: chat (application-level grouping)
// - subsystem: websocket, room, command, bus (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, online users, rooms)
// - Counter: Cumulative events (commands processed, bus envelopes)
// - Histogram: Latency distributions (command processing time)

var (
	// ActiveWebSocketConnections tracks the current number of open sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of logged-in users on this
	// instance.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "websocket",
		Name:      "users_online",
		Help:      "Current number of online users",
	})

	// ActiveRooms tracks the current number of rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms",
	})

	// CommandsProcessed counts dispatched commands by name and outcome.
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "command",
		Name:      "processed_total",
		Help:      "Total commands processed",
	}, []string{"command", "status"})

	// CommandDuration tracks the time spent executing commands.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chat",
		Subsystem: "command",
		Name:      "processing_seconds",
		Help:      "Time spent processing commands",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// BusEnvelopes counts cluster bus envelopes by event and direction
	// (published or received).
	BusEnvelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "envelopes_total",
		Help:      "Total cluster bus envelopes",
	}, []string{"event", "direction"})

	// CircuitBreakerState reports the breaker state per backend
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts requests rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total requests rejected by an open circuit breaker",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
