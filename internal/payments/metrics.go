package payments

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/innkeep/innkeep/internal/metrics"
)

var (
	webhookOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "payments",
			Name:      "webhook_outcomes_total",
			Help:      "Webhook deliveries by processing outcome.",
		},
		[]string{"outcome"},
	)

	recordsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "payments",
			Name:      "records_total",
			Help:      "Payment ledger records by target kind and status.",
		},
		[]string{"target", "status"},
	)

	chargeCreations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "payments",
			Name:      "charge_creations_total",
			Help:      "Charge creation attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)

	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "payments",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of outbound provider calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"call"},
	)
)

func init() {
	prometheus.MustRegister(webhookOutcomes, recordsWritten, chargeCreations, providerCallDuration)
}
