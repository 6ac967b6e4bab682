package booking

import "github.com/prometheus/client_golang/prometheus"

var (
	reservationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "booking",
		Name:      "reservation_outcomes_total",
		Help:      "Reservation creation and settlement outcomes.",
	}, []string{"outcome"})

	reservationsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "booking",
		Name:      "reservations_confirmed_total",
		Help:      "Reservations confirmed by an approved payment.",
	})

	reservationsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "booking",
		Name:      "reservations_expired_total",
		Help:      "Pending reservations expired by the sweeper.",
	})

	staleTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "booking",
		Name:      "stale_transitions_total",
		Help:      "State transitions ignored because the reservation already left pending.",
	}, []string{"action", "status"})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "innkeep",
		Subsystem: "booking",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of expiry sweeper runs.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		reservationsCreated,
		reservationsConfirmed,
		reservationsExpired,
		staleTransitions,
		sweepDuration,
	)
}
