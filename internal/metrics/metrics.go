// Package metrics собирает Prometheus-метрики сервиса. Все методы безопасны для nil-получателя.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	busDelivered   prometheus.Counter
	busDropped     prometheus.Counter
	busSessions    prometheus.Gauge
	webhooks       *prometheus.CounterVec
	slaEscalations *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "assignment_transitions_total",
			Help:      "Applied assignment status transitions.",
		}, []string{"from", "to"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "verification_attempts_total",
			Help:      "Arrival verification attempts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		busDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "bus_deliveries_total",
			Help:      "Events handed to session buffers.",
		}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "bus_dropped_total",
			Help:      "Events dropped because a session buffer was full.",
		}),
		busSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "bus_sessions",
			Help:      "Connected dashboard sessions.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery results.",
		}, []string{"result"}),
		slaEscalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "sla_escalations_total",
			Help:      "Assignments entering an SLA tier.",
		}, []string{"tier"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.transitions,
		m.verifications,
		m.busDelivered,
		m.busDropped,
		m.busSessions,
		m.webhooks,
		m.slaEscalations,
	)
	return m
}

// Handler HTTP-обработчик для /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Verification(outcome, reason string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) Delivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.busDelivered.Add(float64(n))
}

func (m *Metrics) Dropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.busDropped.Add(float64(n))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.busSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.busSessions.Dec()
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) SLAEscalation(tier string) {
	if m == nil {
		return
	}
	m.slaEscalations.WithLabelValues(tier).Inc()
}
