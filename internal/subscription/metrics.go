package subscription

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/innkeep/innkeep/internal/metrics"
)

var (
	subscriptionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscription",
			Name:      "transitions_total",
			Help:      "Subscription state transitions by from/to status.",
		},
		[]string{"from", "to"},
	)

	retryAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscription",
			Name:      "retry_attempts_total",
			Help:      "Dunning charge attempts fired.",
		},
	)

	staleOutcomes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscription",
			Name:      "stale_outcomes_total",
			Help:      "Charge outcomes ignored because they were already applied.",
		},
	)

	billingTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscription",
			Name:      "billing_tick_duration_seconds",
			Help:      "Wall time of one billing driver tick.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(subscriptionTransitions, retryAttempts, staleOutcomes, billingTickDuration)
}
