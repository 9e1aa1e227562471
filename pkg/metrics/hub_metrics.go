package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics for connection lifecycle, presence and event dispatch
var (
	HubConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_websocket_connections",
		Help: "Current number of active WebSocket connections",
	})

	HubConnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_websocket_connection_total",
		Help: "Total number of WebSocket connection attempts",
	}, []string{"status"}) // "accepted", "rejected", "replaced"

	HubDisconnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_websocket_disconnection_total",
		Help: "Total number of WebSocket disconnections",
	}, []string{"reason"})

	HubEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_events_total",
		Help: "Total number of events processed by the hub",
	}, []string{"type", "direction"}) // "in" for received, "out" for sent

	HubEventErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_event_errors_total",
		Help: "Total number of events that failed to process",
	}, []string{"code"})

	HubClientSendDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_client_send_dropped_total",
		Help: "Total number of outbound frames dropped to clients",
	}, []string{"reason"})

	HubUsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_users_online",
		Help: "Current number of users registered as online",
	})

	HubRoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_rooms_active",
		Help: "Current number of rooms with at least one member",
	})

	HubBroadcastPanicTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_broadcast_panic_total",
		Help: "Total number of panics recovered during broadcast",
	})
)
