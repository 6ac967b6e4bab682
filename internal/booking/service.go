package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/innkeep/innkeep/internal/idgen"
	"github.com/innkeep/innkeep/internal/pagination"
	"github.com/innkeep/innkeep/internal/syncutil"
	"github.com/innkeep/innkeep/internal/traces"
)

// DefaultReservationTTL is the payment window for a pending reservation.
const DefaultReservationTTL = 10 * time.Minute

// Service implements the reservation core: availability under lock,
// rule evaluation, creation, payment-driven transitions, and cancellation.
type Service struct {
	store          Store
	types          TypeDirectory
	gate           SiteGate
	charger        ChargeStarter
	notifier       Notifier
	logger         *slog.Logger
	reservationTTL time.Duration
	maxStayNights  int
	typeLocks      syncutil.KeyedMutex // serialises check-then-reserve per accommodation type
	now            func() time.Time
}

// NewService creates a booking service.
func NewService(store Store, types TypeDirectory, gate SiteGate, charger ChargeStarter, logger *slog.Logger) *Service {
	return &Service{
		store:          store,
		types:          types,
		gate:           gate,
		charger:        charger,
		logger:         logger,
		reservationTTL: DefaultReservationTTL,
		now:            time.Now,
	}
}

// WithReservationTTL overrides the payment window.
func (s *Service) WithReservationTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.reservationTTL = ttl
	}
	return s
}

// WithMaxStayNights caps the length of a single stay (0 = no cap).
func (s *Service) WithMaxStayNights(n int) *Service {
	s.maxStayNights = n
	return s
}

// WithNotifier adds a lifecycle event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// CheckAvailability computes free units for a type and range. Pure read:
// capacity minus active overlapping reservations, optionally excluding one
// reservation (used when checking a date change against itself).
func (s *Service) CheckAvailability(ctx context.Context, typeID string, dr DateRange, excludeReservationID string) (*Availability, error) {
	info, err := s.types.LookupType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	booked, err := s.store.CountActiveOverlapping(ctx, typeID, dr, excludeReservationID)
	if err != nil {
		return nil, fmt.Errorf("count active reservations: %w", err)
	}
	free := info.CapacityUnits - booked
	if free < 0 {
		free = 0
	}
	return &Availability{Available: free > 0, FreeUnits: free}, nil
}

// Create runs the booking path: resolve the type, enter the per-type
// critical section, recompute availability, evaluate the rules, insert the
// reservation pending with a payment deadline, and start the provider
// charge. A *RuleViolation return is a validation failure, never retried.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Reservation, error) {
	info, err := s.types.LookupType(ctx, req.AccommodationTypeID)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "booking.Create",
		traces.SiteID(info.SiteID), attribute.String("accommodation_type.id", info.ID))
	defer span.End()

	accepting, reason, err := s.gate.SiteAccepting(ctx, info.SiteID)
	if err != nil {
		return nil, fmt.Errorf("check site standing: %w", err)
	}

	total, err := info.NightlyRate.MulInt(int64(req.Range.Nights()))
	if err != nil {
		return nil, fmt.Errorf("compute total price: %w", err)
	}

	// Check-then-reserve is the one racy sequence in the system; the
	// per-type lock makes it a serialisable critical section. The postgres
	// store additionally locks the type row so the invariant holds across
	// processes.
	unlock, err := s.typeLocks.Acquire(ctx, info.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	booked, err := s.store.CountActiveOverlapping(ctx, info.ID, req.Range, "")
	if err != nil {
		return nil, fmt.Errorf("count active reservations: %w", err)
	}
	free := info.CapacityUnits - booked

	in := RuleInput{
		Range:         req.Range,
		Guests:        req.Guests,
		Type:          info,
		SiteAccepting: accepting,
		SiteReason:    reason,
		FreeUnits:     free,
		Now:           s.now(),
		MaxStayNights: s.maxStayNights,
	}
	if v := Evaluate(in, DefaultRules()...); v != nil {
		reservationsCreated.WithLabelValues("rule_" + v.Rule).Inc()
		return nil, v
	}

	now := s.now()
	r := &Reservation{
		ID:                  idgen.WithPrefix("res_"),
		SiteID:              info.SiteID,
		AccommodationTypeID: info.ID,
		Range:               req.Range,
		Guests:              req.Guests,
		Guest:               req.Guest,
		TotalPrice:          total,
		Status:              StatusPending,
		PaymentStatus:       PaymentUnpaid,
		ExpiresAt:           now.Add(s.reservationTTL),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.store.CreateIfAvailable(ctx, r, info.CapacityUnits); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(traces.ReservationID(r.ID))
	reservationsCreated.WithLabelValues("pending").Inc()

	checkout, err := s.charger.StartCharge(ctx, r)
	if err != nil {
		span.RecordError(err)
		// No inline retry: release the unit and surface a transient
		// failure. The guest books again; the retry driver is for
		// subscriptions only.
		s.compensateChargeFailure(ctx, r, err)
		return nil, fmt.Errorf("%w: %v", ErrChargeStart, err)
	}

	r.PaymentRef = checkout.PaymentRef
	r.CheckoutURL = checkout.CheckoutURL
	r.UpdatedAt = s.now()
	if err := s.store.Update(ctx, r); err != nil {
		s.logger.Error("reservation created but checkout handle not persisted",
			"reservationId", r.ID, "paymentRef", r.PaymentRef, "error", err)
	}

	s.notify(r)
	return r, nil
}

// compensateChargeFailure moves a fresh reservation to rejected after the
// provider refused to open a charge, releasing its unit immediately.
func (s *Service) compensateChargeFailure(ctx context.Context, r *Reservation, cause error) {
	r.Status = StatusRejected
	r.PaymentStatus = PaymentFailed
	r.UpdatedAt = s.now()
	if err := s.store.Update(ctx, r); err != nil {
		// The sweeper will expire it once the payment window lapses.
		s.logger.Error("failed to compensate reservation after charge failure",
			"reservationId", r.ID, "chargeError", cause, "error", err)
		return
	}
	reservationsCreated.WithLabelValues("charge_failed").Inc()
	s.logger.Warn("reservation rejected, charge creation failed",
		"reservationId", r.ID, "error", cause)
}

// Get returns a reservation by ID.
func (s *Service) Get(ctx context.Context, id string) (*Reservation, error) {
	return s.store.Get(ctx, id)
}

// ListBySite returns a site's reservations, newest first.
func (s *Service) ListBySite(ctx context.Context, siteID string, limit int) ([]*Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySite(ctx, siteID, limit)
}

// ListBySitePage returns one page of a site's reservations, newest
// first, plus the opaque cursor for the next page ("" on the last page).
func (s *Service) ListBySitePage(ctx context.Context, siteID, cursor string, limit int) ([]*Reservation, string, error) {
	if limit <= 0 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", ErrBadCursor
	}
	items, err := s.store.ListBySitePage(ctx, siteID, before, limit+1)
	if err != nil {
		return nil, "", err
	}
	page, next, _ := pagination.ComputePage(items, limit, func(r *Reservation) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	return page, next, nil
}

// ApprovePayment records an approved charge against a reservation:
// pending → confirmed. On a non-pending reservation this is a logged
// conflict and a no-op, which is what duplicate or out-of-order webhook
// delivery must see.
func (s *Service) ApprovePayment(ctx context.Context, reservationID, paymentRef string) error {
	r, err := s.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status != StatusPending {
		staleTransitions.WithLabelValues("approve", string(r.Status)).Inc()
		s.logger.Info("stale payment approval ignored",
			"reservationId", r.ID, "status", r.Status, "paymentRef", paymentRef)
		return nil
	}

	now := s.now()
	r.Status = StatusConfirmed
	r.PaymentStatus = PaymentPaid
	if paymentRef != "" {
		r.PaymentRef = paymentRef
	}
	r.ConfirmedAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return fmt.Errorf("confirm reservation %s: %w", r.ID, err)
	}
	reservationsConfirmed.Inc()
	s.logger.Info("reservation confirmed", "reservationId", r.ID, "siteId", r.SiteID)
	s.notify(r)
	return nil
}

// RejectPayment records a rejected or cancelled charge: pending → rejected.
// Same conflict semantics as ApprovePayment.
func (s *Service) RejectPayment(ctx context.Context, reservationID, paymentRef string) error {
	r, err := s.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status != StatusPending {
		staleTransitions.WithLabelValues("reject", string(r.Status)).Inc()
		s.logger.Info("stale payment rejection ignored",
			"reservationId", r.ID, "status", r.Status, "paymentRef", paymentRef)
		return nil
	}

	r.Status = StatusRejected
	r.PaymentStatus = PaymentFailed
	if paymentRef != "" {
		r.PaymentRef = paymentRef
	}
	r.UpdatedAt = s.now()
	if err := s.store.Update(ctx, r); err != nil {
		return fmt.Errorf("reject reservation %s: %w", r.ID, err)
	}
	reservationsCreated.WithLabelValues("rejected").Inc()
	s.logger.Info("reservation rejected", "reservationId", r.ID, "siteId", r.SiteID)
	s.notify(r)
	return nil
}

// Expire moves a pending reservation past its payment deadline to expired,
// releasing its unit. Called by the sweeper; anything non-pending has been
// settled in the meantime and is left alone.
func (s *Service) Expire(ctx context.Context, reservation *Reservation) error {
	// Re-read under current state: a webhook may have confirmed it
	// between the sweep listing and now.
	r, err := s.store.Get(ctx, reservation.ID)
	if err != nil {
		return err
	}
	if r.Status != StatusPending {
		staleTransitions.WithLabelValues("expire", string(r.Status)).Inc()
		return nil
	}
	if s.now().Before(r.ExpiresAt) {
		return nil
	}

	r.Status = StatusExpired
	r.UpdatedAt = s.now()
	if err := s.store.Update(ctx, r); err != nil {
		return fmt.Errorf("expire reservation %s: %w", r.ID, err)
	}
	reservationsExpired.Inc()
	s.notify(r)
	return nil
}

// Cancel cancels a confirmed reservation. Pending reservations cannot be
// cancelled (they either settle or expire); terminal ones stay terminal.
func (s *Service) Cancel(ctx context.Context, id string) (*Reservation, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusConfirmed {
		return nil, ErrNotCancellable
	}

	now := s.now()
	r.Status = StatusCancelled
	r.CancelledAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("cancel reservation %s: %w", r.ID, err)
	}
	reservationsCreated.WithLabelValues("cancelled").Inc()
	s.logger.Info("reservation cancelled", "reservationId", r.ID, "siteId", r.SiteID)
	s.notify(r)
	return r, nil
}

func (s *Service) notify(r *Reservation) {
	if s.notifier != nil {
		cp := *r
		s.notifier.ReservationChanged(&cp)
	}
}
