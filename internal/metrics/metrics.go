package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codehive_active_connections",
		Help: "Currently open websocket connections.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codehive_active_rooms",
		Help: "Rooms with at least one occupant.",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehive_events_total",
		Help: "Inbound events processed, by type.",
	}, []string{"type"})

	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehive_messages_relayed_total",
		Help: "Chat messages persisted and broadcast.",
	})
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
