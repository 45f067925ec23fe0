// Package metrics exports subscription state transitions as Prometheus
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ggoodman/pushstream-go/subscription"
)

// Collector counts transitions reported by subscription chains. Pass
// Observe to subscription.WithObserver (or the client's observer option).
type Collector struct {
	transitions *prometheus.CounterVec
	retries     *prometheus.CounterVec
	refreshes   prometheus.Counter
	open        *prometheus.GaugeVec
}

// New registers the collector's metrics on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushstream",
				Subsystem: "subscription",
				Name:      "transitions_total",
				Help:      "State transitions by layer, target state and reason.",
			},
			[]string{"layer", "state", "reason"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushstream",
				Subsystem: "subscription",
				Name:      "retries_total",
				Help:      "Retry attempts started by the retrying and resuming layers.",
			},
			[]string{"layer"},
		),
		refreshes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pushstream",
				Subsystem: "token",
				Name:      "refreshes_total",
				Help:      "Token refreshes triggered by expired-token errors.",
			},
		),
		open: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pushstream",
				Subsystem: "subscription",
				Name:      "open",
				Help:      "Subscriptions currently in the open state, by layer.",
			},
			[]string{"layer"},
		),
	}
}

// Observe records t.
func (c *Collector) Observe(t subscription.Transition) {
	c.transitions.WithLabelValues(t.Layer, string(t.To), string(t.Reason)).Inc()

	switch t.Reason {
	case subscription.ReasonRetry:
		c.retries.WithLabelValues(t.Layer).Inc()
	case subscription.ReasonTokenExpired:
		c.refreshes.Inc()
	}

	if t.To == subscription.StateOpen && t.From != subscription.StateOpen {
		c.open.WithLabelValues(t.Layer).Inc()
	}
	if t.From == subscription.StateOpen && t.To != subscription.StateOpen {
		c.open.WithLabelValues(t.Layer).Dec()
	}
}
