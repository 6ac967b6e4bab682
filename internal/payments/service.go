package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/money"
	"github.com/innkeep/innkeep/internal/subscription"
	"github.com/innkeep/innkeep/internal/traces"
)

// providerTimeout bounds every outbound provider call.
const providerTimeout = 10 * time.Second

// Service creates charges and serves the payment ledger. It is the
// booking core's ChargeStarter, the billing driver's Charger, and the
// site service's CollectorOnboarder.
type Service struct {
	store         Store
	provider      Provider
	sites         SiteBilling
	commissionBPS int64
	logger        *slog.Logger
}

// NewService creates a payment service.
func NewService(store Store, provider Provider, sites SiteBilling, logger *slog.Logger) *Service {
	return &Service{
		store:         store,
		provider:      provider,
		sites:         sites,
		commissionBPS: DefaultCommissionBPS,
		logger:        logger,
	}
}

// WithCommissionBPS overrides the platform commission rate.
func (s *Service) WithCommissionBPS(bps int64) *Service {
	if bps >= 0 && bps <= 10000 {
		s.commissionBPS = bps
	}
	return s
}

// StartCharge implements booking.ChargeStarter: builds the split charge
// and opens a hosted checkout for the guest.
func (s *Service) StartCharge(ctx context.Context, r *booking.Reservation) (*booking.Checkout, error) {
	ctx, span := traces.StartSpan(ctx, "payments.StartCharge",
		traces.SiteID(r.SiteID), traces.ReservationID(r.ID), traces.Amount(r.TotalPrice.String()))
	defer span.End()

	collectorID, _, err := s.sites.BillingIDs(ctx, r.SiteID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve site billing: %w", err)
	}

	req, err := BuildChargeRequest(r, collectorID, s.commissionBPS)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	co, err := s.provider.CreateCheckout(cctx, req)
	if err != nil {
		chargeCreations.WithLabelValues("checkout", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider checkout failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	chargeCreations.WithLabelValues("checkout", "ok").Inc()

	s.logger.Info("checkout created",
		"reservationId", r.ID,
		"paymentId", co.ProviderPaymentID,
		"amount", req.Amount.String(),
		"fee", req.ApplicationFee.String(),
	)
	return &booking.Checkout{PaymentRef: co.ProviderPaymentID, CheckoutURL: co.URL}, nil
}

// ChargeSubscription implements subscription.Charger: one off-session
// charge against the site's stored payment method. A provider decline
// is wrapped in subscription.ErrChargeDeclined so the dunning machinery
// distinguishes it from transient failure.
func (s *Service) ChargeSubscription(ctx context.Context, sub *subscription.Subscription, amount money.Money) (string, error) {
	ctx, span := traces.StartSpan(ctx, "payments.ChargeSubscription",
		traces.SiteID(sub.SiteID), traces.SubscriptionID(sub.ID), traces.Amount(amount.String()))
	defer span.End()

	_, customerID, err := s.sites.BillingIDs(ctx, sub.SiteID)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("resolve site billing: %w", err)
	}
	if customerID == "" {
		return "", fmt.Errorf("%w: site %s has no billing customer", subscription.ErrChargeDeclined, sub.SiteID)
	}

	req := &ChargeRequest{
		ExternalRef: sub.ID,
		Description: fmt.Sprintf("Subscription %s, plan %s", sub.ID, sub.Plan),
		Amount:      amount,
		CustomerID:  customerID,
	}

	cctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	ch, err := s.provider.CreateSubscriptionCharge(cctx, req)
	if err != nil {
		var declined *DeclinedError
		if errors.As(err, &declined) {
			chargeCreations.WithLabelValues("subscription", "declined").Inc()
			return declined.ProviderPaymentID, fmt.Errorf("%w: %s", subscription.ErrChargeDeclined, declined.Reason)
		}
		chargeCreations.WithLabelValues("subscription", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider charge failed")
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if ch.Status == StatusRejected {
		chargeCreations.WithLabelValues("subscription", "declined").Inc()
		return ch.ProviderPaymentID, subscription.ErrChargeDeclined
	}
	chargeCreations.WithLabelValues("subscription", "ok").Inc()
	return ch.ProviderPaymentID, nil
}

// CreateCollectorAccount implements site.CollectorOnboarder.
func (s *Service) CreateCollectorAccount(ctx context.Context, email string) (string, string, error) {
	cctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	return s.provider.CreateCollectorAccount(cctx, email)
}

// CreateCustomer creates the provider customer used for subscription
// charges.
func (s *Service) CreateCustomer(ctx context.Context, email string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	return s.provider.CreateCustomer(cctx, email)
}

// Get returns one ledger record.
func (s *Service) Get(ctx context.Context, id string) (*PaymentRecord, error) {
	return s.store.Get(ctx, id)
}

// ListByTarget returns the ledger records for one aggregate.
func (s *Service) ListByTarget(ctx context.Context, kind TargetKind, targetID string) ([]*PaymentRecord, error) {
	return s.store.ListByTarget(ctx, kind, targetID)
}

// Revenue summarises approved reservation payments for the given
// reservation ids in [from, to).
func (s *Service) Revenue(ctx context.Context, reservationIDs []string, from, to time.Time) (*RevenueSummary, error) {
	gross, count, err := s.store.SumApproved(ctx, reservationIDs, from, to)
	if err != nil {
		return nil, err
	}
	fee, net := gross.SplitBps(s.commissionBPS)
	return &RevenueSummary{Gross: gross, Commission: fee, Net: net, Count: count}, nil
}

// DeclinedError is a provider-level decline with the payment id that
// the provider still assigned to the failed attempt.
type DeclinedError struct {
	ProviderPaymentID string
	Reason            string
}

func (e *DeclinedError) Error() string {
	return "payments: charge declined: " + e.Reason
}

var (
	_ booking.ChargeStarter = (*Service)(nil)
	_ subscription.Charger  = (*Service)(nil)
)
