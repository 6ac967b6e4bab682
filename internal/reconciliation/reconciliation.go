// Package reconciliation cross-checks reservation state against the payment ledger.
//
// Two named checks run on a timer and on demand from admin:
//  1. stale pending: pending reservations past their payment window that still
//     hold a payment ref get the payment re-fetched from the provider and
//     re-driven through the normal recording pipeline;
//  2. confirmed drift: confirmed reservations with no approved payment record
//     are reported, never auto-corrected.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/payments"
)

const checkBatchSize = 100

// ReservationSource lists reservations that need cross-checking.
type ReservationSource interface {
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*booking.Reservation, error)
	ListConfirmedSince(ctx context.Context, since time.Time, limit int) ([]*booking.Reservation, error)
}

// PaymentRecoverer re-drives a provider payment through the recording pipeline.
type PaymentRecoverer interface {
	Recover(ctx context.Context, providerPaymentID string) error
}

// RecordSource reads the payment ledger.
type RecordSource interface {
	ListByTarget(ctx context.Context, kind payments.TargetKind, targetID string) ([]*payments.PaymentRecord, error)
}

// Drift is one confirmed reservation whose ledger state disagrees.
type Drift struct {
	ReservationID string    `json:"reservationId"`
	SiteID        string    `json:"siteId"`
	PaymentRef    string    `json:"paymentRef,omitempty"`
	Reason        string    `json:"reason"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}

// Report summarizes one reconciliation run.
type Report struct {
	StalePending      int           `json:"stalePending"`
	RecoveredPayments int           `json:"recoveredPayments"`
	Drift             []Drift       `json:"drift"`
	Healthy           bool          `json:"healthy"`
	Duration          time.Duration `json:"durationMs"`
	Timestamp         time.Time     `json:"timestamp"`
}

// Runner executes the reconciliation checks.
type Runner struct {
	reservations ReservationSource
	recoverer    PaymentRecoverer
	records      RecordSource
	logger       *slog.Logger

	driftWindow time.Duration // how far back confirmed reservations are checked

	mu         sync.RWMutex
	lastReport *Report
}

// NewRunner creates a reconciliation runner.
func NewRunner(reservations ReservationSource, recoverer PaymentRecoverer, records RecordSource, logger *slog.Logger) *Runner {
	return &Runner{
		reservations: reservations,
		recoverer:    recoverer,
		records:      records,
		logger:       logger,
		driftWindow:  24 * time.Hour,
	}
}

// WithDriftWindow sets how far back confirmed reservations are checked.
func (r *Runner) WithDriftWindow(d time.Duration) *Runner {
	r.driftWindow = d
	return r
}

// RunAll executes every check and returns the combined report.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()

	stale, recovered, err := r.checkStalePending(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("stale pending check: %w", err)
	}

	drift, err := r.checkConfirmedDrift(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("confirmed drift check: %w", err)
	}

	report := &Report{
		StalePending:      stale,
		RecoveredPayments: recovered,
		Drift:             drift,
		Healthy:           len(drift) == 0 && stale == recovered,
		Duration:          time.Since(start),
		Timestamp:         time.Now(),
	}

	reconcileStalePending.Set(float64(stale))
	reconcileDrift.Set(float64(len(drift)))
	reconcileDuration.Observe(report.Duration.Seconds())

	r.mu.Lock()
	r.lastReport = report
	r.mu.Unlock()

	if !report.Healthy {
		r.logger.Warn("reconciliation found problems",
			"stalePending", stale, "recovered", recovered, "drift", len(drift))
	}
	return report, nil
}

// LastReport returns the most recent report, or nil before the first run.
func (r *Runner) LastReport() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastReport
}

// checkStalePending re-drives payments for pending reservations past expiry
// that hold a payment ref. The booking sweeper owns refs-less expiries; these
// are the ones where a checkout started and the outcome may have been missed.
func (r *Runner) checkStalePending(ctx context.Context) (found, recovered int, err error) {
	stale, err := r.reservations.ListExpired(ctx, time.Now(), checkBatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, res := range stale {
		if res.PaymentRef == "" {
			continue
		}
		found++
		if err := r.recoverer.Recover(ctx, res.PaymentRef); err != nil {
			r.logger.Warn("payment recovery failed",
				"reservationId", res.ID, "paymentRef", res.PaymentRef, "error", err)
			continue
		}
		recovered++
		reconcileRecovered.Inc()
	}
	return found, recovered, nil
}

// checkConfirmedDrift reports confirmed reservations with no approved record.
func (r *Runner) checkConfirmedDrift(ctx context.Context) ([]Drift, error) {
	confirmed, err := r.reservations.ListConfirmedSince(ctx, time.Now().Add(-r.driftWindow), checkBatchSize)
	if err != nil {
		return nil, err
	}

	var drift []Drift
	for _, res := range confirmed {
		recs, err := r.records.ListByTarget(ctx, payments.TargetReservation, res.ID)
		if err != nil {
			return nil, err
		}

		approved := false
		for _, rec := range recs {
			if rec.Status == payments.StatusApproved {
				approved = true
				break
			}
		}
		if approved {
			continue
		}

		confirmedAt := res.UpdatedAt
		if res.ConfirmedAt != nil {
			confirmedAt = *res.ConfirmedAt
		}
		drift = append(drift, Drift{
			ReservationID: res.ID,
			SiteID:        res.SiteID,
			PaymentRef:    res.PaymentRef,
			Reason:        "confirmed without approved payment record",
			ConfirmedAt:   confirmedAt,
		})
	}
	return drift, nil
}
