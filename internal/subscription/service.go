package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/innkeep/innkeep/internal/idgen"
)

// Service implements the subscription state machine.
type Service struct {
	store    Store
	charger  Charger
	mirror   SiteMirror
	notifier Notifier
	logger   *slog.Logger

	trialDays     int
	graceDays     int
	retryBase     time.Duration
	retryMaxCount int
	now           func() time.Time
}

// NewService creates a subscription service.
func NewService(store Store, charger Charger, mirror SiteMirror, logger *slog.Logger) *Service {
	return &Service{
		store:         store,
		charger:       charger,
		mirror:        mirror,
		logger:        logger,
		trialDays:     DefaultTrialDays,
		graceDays:     DefaultGraceDays,
		retryBase:     DefaultRetryBase,
		retryMaxCount: DefaultRetryMaxCount,
		now:           time.Now,
	}
}

// WithBillingWindows overrides trial/grace/dunning parameters.
func (s *Service) WithBillingWindows(trialDays, graceDays int, retryBase time.Duration, retryMax int) *Service {
	if trialDays > 0 {
		s.trialDays = trialDays
	}
	if graceDays > 0 {
		s.graceDays = graceDays
	}
	if retryBase > 0 {
		s.retryBase = retryBase
	}
	if retryMax > 0 {
		s.retryMaxCount = retryMax
	}
	return s
}

// WithNotifier adds a lifecycle event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// StartTrial creates a subscription in trial for a freshly-registered
// site. No charge is made during the trial. Implements the site
// package's SubscriptionStarter.
func (s *Service) StartTrial(ctx context.Context, siteID, plan string) error {
	p := PlanID(plan)
	if plan == "" {
		p = DefaultPlan
	}
	if !ValidPlan(p) {
		return fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}

	now := s.now()
	sub := &Subscription{
		ID:        idgen.WithPrefix("sub_"),
		SiteID:    siteID,
		Plan:      p,
		Status:    StatusTrial,
		TrialEnd:  now.AddDate(0, 0, s.trialDays),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return err
	}
	subscriptionTransitions.WithLabelValues("", string(StatusTrial)).Inc()
	s.logger.Info("trial started",
		"subscriptionId", sub.ID, "siteId", siteID, "plan", p, "trialEnd", sub.TrialEnd)
	s.notify(sub)
	return nil
}

// Get returns a subscription by ID.
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// GetBySite returns a site's subscription.
func (s *Service) GetBySite(ctx context.Context, siteID string) (*Subscription, error) {
	return s.store.GetBySite(ctx, siteID)
}

// List returns subscriptions for the admin surface.
func (s *Service) List(ctx context.Context, limit int) ([]*Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.List(ctx, limit)
}

// Usable implements the site package's SubscriptionChecker: a site may
// take bookings while its subscription is in trial, active, or
// payment_failed within grace.
func (s *Service) Usable(ctx context.Context, siteID string) (bool, string, error) {
	sub, err := s.store.GetBySite(ctx, siteID)
	if err != nil {
		return false, "", err
	}
	switch sub.Status {
	case StatusTrial, StatusActive:
		return true, "", nil
	case StatusPaymentFailed:
		if sub.InGrace(s.now()) {
			return true, "", nil
		}
		return false, "subscription payment overdue", nil
	case StatusSuspended:
		return false, "subscription suspended", nil
	default:
		return false, "subscription cancelled", nil
	}
}

// CatalogueLimits implements the site package's SubscriptionChecker.
func (s *Service) CatalogueLimits(ctx context.Context, siteID string) (int, int, error) {
	sub, err := s.store.GetBySite(ctx, siteID)
	if err != nil {
		return 0, 0, err
	}
	cfg, ok := Plans[sub.Plan]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownPlan, sub.Plan)
	}
	return cfg.MaxAccommodationTypes, cfg.MaxUnits, nil
}

// Cancel cancels a subscription from any non-terminal state. Billing
// stops immediately; nothing already collected is refunded.
func (s *Service) Cancel(ctx context.Context, siteID string) (*Subscription, error) {
	sub, err := s.store.GetBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, ErrTerminal
	}

	now := s.now()
	from := sub.Status
	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.NextRetryAt = nil
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	subscriptionTransitions.WithLabelValues(string(from), string(StatusCancelled)).Inc()
	if s.mirror != nil {
		if err := s.mirror.MarkCancelled(ctx, siteID); err != nil {
			s.logger.Warn("failed to mirror cancellation onto site", "siteId", siteID, "error", err)
		}
	}
	s.logger.Info("subscription cancelled", "subscriptionId", sub.ID, "siteId", siteID, "from", from)
	s.notify(sub)
	return sub, nil
}

// ManualRetry fires one immediate charge attempt for a payment_failed
// subscription. The attempt counts against the dunning cap.
func (s *Service) ManualRetry(ctx context.Context, siteID string) (*Subscription, error) {
	sub, err := s.store.GetBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusPaymentFailed {
		return nil, ErrNotRetryable
	}
	if sub.RetryCount >= s.retryMaxCount {
		return nil, ErrRetriesExhausted
	}
	s.attemptCharge(ctx, sub)
	return s.store.GetBySite(ctx, siteID)
}

// ApplyChargeOutcome records an authoritative payment outcome (from the
// webhook processor's event dispatcher) against a subscription. The
// provider payment id keys idempotency: an outcome already applied is a
// logged conflict and a no-op.
func (s *Service) ApplyChargeOutcome(ctx context.Context, subscriptionID, providerPaymentID string, approved bool) error {
	sub, err := s.store.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if providerPaymentID != "" && sub.LastPaymentID == providerPaymentID {
		staleOutcomes.Inc()
		s.logger.Info("stale charge outcome ignored",
			"subscriptionId", sub.ID, "paymentId", providerPaymentID)
		return nil
	}
	if sub.Status.IsTerminal() || sub.Status == StatusSuspended {
		staleOutcomes.Inc()
		s.logger.Info("charge outcome on settled subscription ignored",
			"subscriptionId", sub.ID, "status", sub.Status, "paymentId", providerPaymentID)
		return nil
	}
	if !approved && sub.Status == StatusTrial {
		// Trials are never charged, so a failure here references no
		// charge this service made.
		staleOutcomes.Inc()
		s.logger.Info("charge failure on trial subscription ignored",
			"subscriptionId", sub.ID, "paymentId", providerPaymentID)
		return nil
	}

	if approved {
		return s.recordChargeSuccess(ctx, sub, providerPaymentID)
	}
	return s.recordChargeFailure(ctx, sub, providerPaymentID)
}

// recordChargeSuccess applies a successful charge: payment_failed
// recovers to active with failure fields cleared; active extends the
// billing period by one month anchored at the old period end.
func (s *Service) recordChargeSuccess(ctx context.Context, sub *Subscription, paymentID string) error {
	now := s.now()
	from := sub.Status

	anchor := sub.PeriodEnd
	if anchor.Before(now) {
		anchor = now
	}
	switch sub.Status {
	case StatusTrial:
		// Early conversion: an operator paid before the driver fired.
		sub.PeriodStart = now
		sub.PeriodEnd = now.AddDate(0, 1, 0)
	case StatusActive:
		sub.PeriodStart = anchor
		sub.PeriodEnd = anchor.AddDate(0, 1, 0)
	case StatusPaymentFailed:
		sub.PeriodStart = now
		sub.PeriodEnd = now.AddDate(0, 1, 0)
	}
	sub.Status = StatusActive
	sub.PaymentFailedAt = nil
	sub.GraceDeadline = nil
	sub.RetryCount = 0
	sub.NextRetryAt = nil
	sub.LastPaymentID = paymentID
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("record charge success for %s: %w", sub.ID, err)
	}
	subscriptionTransitions.WithLabelValues(string(from), string(StatusActive)).Inc()
	if from == StatusPaymentFailed && s.mirror != nil {
		if err := s.mirror.MarkActive(ctx, sub.SiteID); err != nil {
			s.logger.Warn("failed to mirror recovery onto site", "siteId", sub.SiteID, "error", err)
		}
	}
	s.logger.Info("subscription charge succeeded",
		"subscriptionId", sub.ID, "siteId", sub.SiteID, "from", from, "periodEnd", sub.PeriodEnd)
	s.notify(sub)
	return nil
}

// recordChargeFailure applies a failed charge: active (or a converting
// trial) enters payment_failed with the grace window and dunning
// schedule opened; an already payment_failed subscription just keeps its
// schedule (the failure is the attempt's outcome, not a new incident).
func (s *Service) recordChargeFailure(ctx context.Context, sub *Subscription, paymentID string) error {
	now := s.now()
	from := sub.Status

	if sub.Status == StatusPaymentFailed {
		sub.LastPaymentID = paymentID
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			return fmt.Errorf("record repeat charge failure for %s: %w", sub.ID, err)
		}
		s.logger.Info("dunning attempt failed",
			"subscriptionId", sub.ID, "retryCount", sub.RetryCount, "nextRetryAt", sub.NextRetryAt)
		return nil
	}

	grace := now.AddDate(0, 0, s.graceDays)
	next := now.Add(s.retryBase)
	sub.Status = StatusPaymentFailed
	sub.PaymentFailedAt = &now
	sub.GraceDeadline = &grace
	sub.RetryCount = 0
	sub.NextRetryAt = &next
	sub.LastPaymentID = paymentID
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("record charge failure for %s: %w", sub.ID, err)
	}
	subscriptionTransitions.WithLabelValues(string(from), string(StatusPaymentFailed)).Inc()
	s.logger.Warn("subscription charge failed",
		"subscriptionId", sub.ID, "siteId", sub.SiteID,
		"graceDeadline", grace, "nextRetryAt", next)
	s.notify(sub)
	return nil
}

// attemptCharge initiates one off-session charge and applies its
// synchronous outcome. Declines become charge failures; transient
// provider errors leave the subscription untouched for the next tick.
// Attempts from payment_failed advance the dunning schedule first so a
// hung provider call cannot produce a tight retry loop.
func (s *Service) attemptCharge(ctx context.Context, sub *Subscription) {
	cfg, ok := Plans[sub.Plan]
	if !ok {
		s.logger.Error("subscription references unknown plan", "subscriptionId", sub.ID, "plan", sub.Plan)
		return
	}

	if sub.Status == StatusPaymentFailed {
		now := s.now()
		sub.RetryCount++
		if sub.RetryCount < s.retryMaxCount {
			// Backoff doubles per attempt: base, 2*base, 4*base, ...
			next := now.Add(s.retryBase << uint(sub.RetryCount))
			sub.NextRetryAt = &next
		} else {
			sub.NextRetryAt = nil // cap reached; only grace expiry acts now
		}
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			s.logger.Warn("failed to advance dunning schedule", "subscriptionId", sub.ID, "error", err)
			return
		}
		retryAttempts.Inc()
	}

	paymentID, err := s.charger.ChargeSubscription(ctx, sub, cfg.MonthlyPrice)
	switch {
	case err == nil:
		if err := s.recordChargeSuccess(ctx, sub, paymentID); err != nil {
			s.logger.Error("charge succeeded but outcome not recorded",
				"subscriptionId", sub.ID, "paymentId", paymentID, "error", err)
		}
	case errors.Is(err, ErrChargeDeclined):
		if err := s.recordChargeFailure(ctx, sub, paymentID); err != nil {
			s.logger.Error("charge declined but outcome not recorded",
				"subscriptionId", sub.ID, "error", err)
		}
	default:
		// Transient: no state change, the driver tries again next tick.
		s.logger.Warn("subscription charge attempt errored",
			"subscriptionId", sub.ID, "error", err)
	}
}

// ConvertDueTrials activates subscriptions whose trial has lapsed and
// initiates their first charge. Activation happens at conversion; a
// failing first charge then follows the normal payment_failed path.
func (s *Service) ConvertDueTrials(ctx context.Context, limit int) int {
	now := s.now()
	due, err := s.store.ListDueTrials(ctx, now, limit)
	if err != nil {
		s.logger.Warn("failed to list due trials", "error", err)
		return 0
	}

	for _, sub := range due {
		from := sub.Status
		sub.Status = StatusActive
		sub.PeriodStart = now
		sub.PeriodEnd = now.AddDate(0, 1, 0)
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			s.logger.Warn("failed to activate trial", "subscriptionId", sub.ID, "error", err)
			continue
		}
		subscriptionTransitions.WithLabelValues(string(from), string(StatusActive)).Inc()
		s.logger.Info("trial converted", "subscriptionId", sub.ID, "siteId", sub.SiteID)
		s.notify(sub)
		s.attemptCharge(ctx, sub)
	}
	return len(due)
}

// RenewDue initiates renewal charges for active subscriptions whose
// billing period has ended.
func (s *Service) RenewDue(ctx context.Context, limit int) int {
	due, err := s.store.ListDueRenewals(ctx, s.now(), limit)
	if err != nil {
		s.logger.Warn("failed to list due renewals", "error", err)
		return 0
	}
	for _, sub := range due {
		s.attemptCharge(ctx, sub)
	}
	return len(due)
}

// RetryDue fires scheduled dunning attempts for payment_failed
// subscriptions whose backoff delay has elapsed. Subscriptions past
// their grace deadline are left for SuspendGraceExpired.
func (s *Service) RetryDue(ctx context.Context, limit int) int {
	now := s.now()
	due, err := s.store.ListDueRetries(ctx, now, limit)
	if err != nil {
		s.logger.Warn("failed to list due retries", "error", err)
		return 0
	}
	attempted := 0
	for _, sub := range due {
		if sub.GraceDeadline != nil && now.After(*sub.GraceDeadline) {
			continue
		}
		if sub.RetryCount >= s.retryMaxCount {
			continue
		}
		s.attemptCharge(ctx, sub)
		attempted++
	}
	return attempted
}

// SuspendGraceExpired suspends payment_failed subscriptions whose grace
// deadline has passed, regardless of how many retries ran. The owning
// site is suspended with it.
func (s *Service) SuspendGraceExpired(ctx context.Context, limit int) int {
	now := s.now()
	expired, err := s.store.ListGraceExpired(ctx, now, limit)
	if err != nil {
		s.logger.Warn("failed to list grace-expired subscriptions", "error", err)
		return 0
	}

	suspended := 0
	for _, sub := range expired {
		sub.Status = StatusSuspended
		sub.NextRetryAt = nil
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			s.logger.Warn("failed to suspend subscription", "subscriptionId", sub.ID, "error", err)
			continue
		}
		subscriptionTransitions.WithLabelValues(string(StatusPaymentFailed), string(StatusSuspended)).Inc()
		if s.mirror != nil {
			if err := s.mirror.MarkSuspended(ctx, sub.SiteID); err != nil {
				s.logger.Warn("failed to mirror suspension onto site", "siteId", sub.SiteID, "error", err)
			}
		}
		s.logger.Warn("subscription suspended, grace deadline passed",
			"subscriptionId", sub.ID, "siteId", sub.SiteID, "retryCount", sub.RetryCount)
		s.notify(sub)
		suspended++
	}
	return suspended
}

func (s *Service) notify(sub *Subscription) {
	if s.notifier != nil {
		cp := *sub
		s.notifier.SubscriptionChanged(&cp)
	}
}
