package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds the Prometheus metrics for one live server.
type serverMetrics struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	framesSent     prometheus.Counter
	eventsReceived prometheus.Counter
	eventsDropped  prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loom",
			Subsystem: "live",
			Name:      "sessions_active",
			Help:      "Currently connected sessions.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "live",
			Name:      "sessions_total",
			Help:      "Sessions accepted since start.",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "live",
			Name:      "frames_sent_total",
			Help:      "Mutation frames sent to clients.",
		}),
		eventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "live",
			Name:      "events_received_total",
			Help:      "Interaction events received from clients.",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "live",
			Name:      "events_dropped_total",
			Help:      "Client events that matched no listener.",
		}),
	}
}
