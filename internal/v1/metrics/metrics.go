// Package metrics registers the broker's Prometheus instruments.
//
// Naming convention: namespace_subsystem_name
//   - namespace: atelier
//   - subsystem: transport, room, relay, protocol, auth, bus
//
// Gauges track current state (connections, rooms, pending requests),
// counters track cumulative events (timeouts, drops, broadcasts), and the
// histogram tracks envelope handling latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is the number of live transport channels.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "atelier",
		Subsystem: "transport",
		Name:      "connections_active",
		Help:      "Current number of connected peers",
	})

	// ActiveRooms is the number of open rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "atelier",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of open rooms",
	})

	// RoomPeers is the member count per room, host included.
	RoomPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "atelier",
		Subsystem: "room",
		Name:      "peers_count",
		Help:      "Number of peers in each room",
	}, []string{"room_id"})

	// PendingRequests is the size of the relay correlation table.
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "atelier",
		Subsystem: "relay",
		Name:      "pending_requests",
		Help:      "In-flight relayed requests awaiting a response",
	})

	// RequestTimeouts counts relayed requests that expired unanswered.
	RequestTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "atelier",
		Subsystem: "relay",
		Name:      "request_timeouts_total",
		Help:      "Relayed requests that hit the response deadline",
	})

	// LateResponses counts responses that arrived after settlement.
	LateResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "atelier",
		Subsystem: "relay",
		Name:      "late_responses_total",
		Help:      "Responses dropped because no pending entry matched",
	})

	// Broadcasts counts room-wide fan-outs.
	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "atelier",
		Subsystem: "relay",
		Name:      "broadcasts_total",
		Help:      "Broadcast envelopes fanned out to rooms",
	})

	// Envelopes counts processed inbound envelopes by kind and outcome.
	Envelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atelier",
		Subsystem: "protocol",
		Name:      "envelopes_total",
		Help:      "Inbound envelopes processed",
	}, []string{"kind", "status"})

	// EnvelopeHandling tracks per-envelope handling latency.
	EnvelopeHandling = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "atelier",
		Subsystem: "protocol",
		Name:      "handling_seconds",
		Help:      "Time spent classifying and relaying inbound envelopes",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"kind"})

	// PendingLogins is the size of the deferred login registry.
	PendingLogins = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "atelier",
		Subsystem: "auth",
		Name:      "pending_logins",
		Help:      "Deferred logins awaiting confirmation",
	})

	// LoginTimeouts counts deferred logins that expired unconfirmed.
	LoginTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "atelier",
		Subsystem: "auth",
		Name:      "login_timeouts_total",
		Help:      "Deferred logins that hit the confirmation deadline",
	})

	// BusBreakerState mirrors the bus circuit breaker (0 closed, 1 half-open, 2 open).
	BusBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "atelier",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "State of the event bus circuit breaker",
	})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
