package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments the gateway exposes.
type Metrics struct {
	EventsIngested *prometheus.CounterVec
	TurnsHandled   *prometheus.CounterVec
	StoreSweeps    prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Activity events accepted by the gateway, by type.",
		}, []string{"type"}),
		TurnsHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_handled_total",
			Help:      "Conversation turns handled, by outcome.",
		}, []string{"outcome"}),
		StoreSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_sweeps_total",
			Help:      "Expiry sweeps run against the backing store.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
