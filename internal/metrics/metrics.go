// Package metrics exposes Prometheus instrumentation for the event hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_events_processed_total",
			Help: "Events that passed validation and were broadcast",
		},
		[]string{"type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_events_rejected_total",
			Help: "Events dropped before broadcast",
		},
		[]string{"reason"}, // "unknown_type", "no_identity", "killswitch", "focus", "chatscore_repeat"
	)

	EventsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_events_duplicate_total",
			Help: "Events broadcast but not persisted because they were already logged",
		},
		[]string{"type"},
	)

	EventsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_events_persisted_total",
			Help: "Events appended to the event log",
		},
		[]string{"type"},
	)

	CommandsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_commands_fired_total",
			Help: "Commands accepted by the dispatcher",
		},
		[]string{"command"},
	)

	CommandsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_commands_rejected_total",
			Help: "Commands refused by a gate",
		},
		[]string{"reason"}, // "focus", "offline", "permission", "cooldown"
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamhub_broadcasts_total",
			Help: "Payloads offered to live clients",
		},
	)

	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamhub_broadcast_deliveries_total",
			Help: "Payloads accepted by a client send buffer",
		},
	)

	BroadcastSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamhub_broadcast_skipped_total",
			Help: "Payloads skipped because a client was not ready",
		},
	)

	ClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamhub_clients_connected",
			Help: "Live websocket clients",
		},
	)

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_webhooks_received_total",
			Help: "Donation webhooks by outcome",
		},
		[]string{"outcome"}, // "accepted", "invalid", "unauthorized", "ignored"
	)

	NotifierDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_notifier_deliveries_total",
			Help: "Outbound chat lines and announcements by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_bus_dropped_total",
			Help: "Internal bus signals dropped because a subscriber was full",
		},
		[]string{"topic"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
