package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileStalePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "innkeep",
		Subsystem: "reconciliation",
		Name:      "stale_pending",
		Help:      "Stale pending reservations with a payment ref found in last run.",
	})

	reconcileDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "innkeep",
		Subsystem: "reconciliation",
		Name:      "confirmed_drift",
		Help:      "Confirmed reservations without an approved payment record in last run.",
	})

	reconcileRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "reconciliation",
		Name:      "recovered_payments_total",
		Help:      "Total payments re-driven through the recording pipeline.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "innkeep",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileStalePending,
		reconcileDrift,
		reconcileRecovered,
		reconcileDuration,
		reconcileErrors,
	)
}
