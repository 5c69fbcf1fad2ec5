// Package metrics exposes Prometheus collectors for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the daemon registers. Construct one per
// registry; tests pass prometheus.NewRegistry() to stay isolated.
type Metrics struct {
	SessionsActive prometheus.Gauge
	PendingAuths   prometheus.Gauge
	ClientsGauge   prometheus.Gauge

	EventsTotal    *prometheus.CounterVec
	DecodeErrors   prometheus.Counter
	ResyncsTotal   prometheus.Counter
	StaleSnapshots prometheus.Counter
	DecisionsTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hostd_sessions_active",
			Help: "Session records currently present in the registry",
		}),
		PendingAuths: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hostd_pending_authorizations",
			Help: "Sessions awaiting an accept/reject decision",
		}),
		ClientsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hostd_notify_clients",
			Help: "Connected UI notification clients",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostd_backend_events_total",
			Help: "Push events received from the backend",
		}, []string{"kind"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hostd_event_decode_errors_total",
			Help: "Push events dropped because their payload did not decode",
		}),
		ResyncsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hostd_resyncs_total",
			Help: "Full snapshot replaces applied",
		}),
		StaleSnapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "hostd_stale_snapshots_total",
			Help: "Fetched snapshots discarded as stale",
		}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostd_decisions_total",
			Help: "Authorization decisions sent to the backend",
		}, []string{"verdict"}),
	}
}
