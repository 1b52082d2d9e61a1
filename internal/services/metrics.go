package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the reconciler's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	transitions        *prometheus.CounterVec
	duplicates         prometheus.Counter
	sideEffectFailures *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membership",
			Name:      "webhook_transitions_total",
			Help:      "Stripe webhook events by event type and reconciler transition.",
		}, []string{"event_type", "transition"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "membership",
			Name:      "webhook_duplicates_total",
			Help:      "Non-critical events suppressed by the dedup window.",
		}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membership",
			Name:      "side_effect_failures_total",
			Help:      "Failed post-commit side effects by kind.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membership",
			Name:      "notifications_total",
			Help:      "Operator notifications by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.duplicates, m.sideEffectFailures, m.notifications)
	}
	return m
}

func (m *Metrics) observeTransition(eventType string, transition Transition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(eventType, string(transition)).Inc()
}

func (m *Metrics) observeDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) observeSideEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeNotification(channel string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}
