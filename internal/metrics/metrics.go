// Package metrics exposes the process's prometheus collectors. Registered
// on /metrics the same way RoseWrightdev-Video-Conferencing's session
// service registers promhttp.Handler, adapted from gin to httprouter.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talespin_rooms_active",
		Help: "Number of rooms currently held by the registry.",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talespin_sessions_active",
		Help: "Number of currently connected websocket sessions across all rooms.",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talespin_messages_total",
		Help: "Client-to-server messages processed, by message type.",
	}, []string{"type"})

	RoomLifetimeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "talespin_room_lifetime_seconds",
		Help:    "Duration between room creation and garbage collection.",
		Buckets: prometheus.ExponentialBuckets(30, 2, 12),
	})

	RoomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talespin_rooms_created_total",
		Help: "Total rooms created since process start.",
	})

	RoomsGCedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talespin_rooms_gced_total",
		Help: "Total rooms garbage-collected since process start.",
	})
)

func init() {
	prometheus.MustRegister(
		RoomsActive,
		SessionsActive,
		MessagesTotal,
		RoomLifetimeSeconds,
		RoomsCreatedTotal,
		RoomsGCedTotal,
	)
}
