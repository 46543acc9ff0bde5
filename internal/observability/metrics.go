package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing, so tests can run the engine without
// touching the global registry.
type Metrics struct {
	QueueDepth       prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	MessagesRelayed  prometheus.Counter
	SessionsStarted  prometheus.Counter
	SessionsExtended prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of users waiting in the matchmaking queue.",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live chat sessions.",
		}),
		MessagesRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Chat messages relayed between session members.",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions created by the matchmaking queue.",
		}),
		SessionsExtended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_extended_total",
			Help:      "Extension rounds resolved with mutual accept.",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions torn down, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) SessionExtended() {
	if m == nil {
		return
	}
	m.SessionsExtended.Inc()
}

func (m *Metrics) MessageRelayed() {
	if m == nil {
		return
	}
	m.MessagesRelayed.Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
