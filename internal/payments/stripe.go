package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/account"
	"github.com/stripe/stripe-go/v81/accountlink"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/innkeep/innkeep/internal/circuitbreaker"
	"github.com/innkeep/innkeep/internal/money"
)

// metadataRefKey carries the aggregate id through the provider and back
// on the webhook.
const metadataRefKey = "external_ref"

// StripeProvider implements Provider on Stripe Connect: destination
// charges via hosted Checkout for reservations, off-session
// PaymentIntents for subscription billing, Express accounts for
// collector onboarding.
type StripeProvider struct {
	webhookSecret string
	onboardingURL string
	breaker       *circuitbreaker.Breaker
}

// NewStripeProvider configures the Stripe client. onboardingURL is
// where Express onboarding returns the operator.
func NewStripeProvider(secretKey, webhookSecret, onboardingURL string) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{
		webhookSecret: webhookSecret,
		onboardingURL: onboardingURL,
		breaker:       circuitbreaker.New(5, 30*time.Second),
	}
}

var _ Provider = (*StripeProvider)(nil)

func (s *StripeProvider) Name() string { return "stripe" }

// call wraps one outbound Stripe call with the circuit breaker and the
// latency histogram.
func (s *StripeProvider) call(kind string, fn func() error) error {
	if !s.breaker.Allow(kind) {
		return fmt.Errorf("%w: circuit open for %s", ErrProviderUnavailable, kind)
	}
	started := time.Now()
	err := fn()
	providerCallDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	if err != nil && !isCardError(err) {
		s.breaker.RecordFailure(kind)
		return err
	}
	s.breaker.RecordSuccess(kind)
	return err
}

func isCardError(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard
}

// CreateCheckout opens a hosted Checkout Session configured as a
// Connect destination charge: the platform fee stays, the rest settles
// with the collector.
func (s *StripeProvider) CreateCheckout(ctx context.Context, req *ChargeRequest) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
		Mode:   stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Amount.Currency)),
				UnitAmount: stripe.Int64(req.Amount.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(req.ApplicationFee.Amount),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(req.CollectorID),
			},
			Metadata: map[string]string{metadataRefKey: req.ExternalRef},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.GuestEmail != "" {
		params.CustomerEmail = stripe.String(req.GuestEmail)
	}

	var sess *stripe.CheckoutSession
	err := s.call("checkout_create", func() error {
		var err error
		sess, err = session.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Checkout{ProviderPaymentID: sess.ID, URL: sess.URL}, nil
}

// CreateSubscriptionCharge confirms an off-session PaymentIntent
// against the site's saved payment method.
func (s *StripeProvider) CreateSubscriptionCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(req.Amount.Amount),
		Currency:    stripe.String(strings.ToLower(req.Amount.Currency)),
		Customer:    stripe.String(req.CustomerID),
		Description: stripe.String(req.Description),
		Confirm:     stripe.Bool(true),
		OffSession:  stripe.Bool(true),
		Metadata:    map[string]string{metadataRefKey: req.ExternalRef},
	}

	var pi *stripe.PaymentIntent
	err := s.call("subscription_charge", func() error {
		var err error
		pi, err = paymentintent.New(params)
		return err
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			declined := &DeclinedError{Reason: string(stripeErr.Code)}
			if stripeErr.PaymentIntent != nil {
				declined.ProviderPaymentID = stripeErr.PaymentIntent.ID
			}
			return nil, declined
		}
		return nil, fmt.Errorf("create subscription charge: %w", err)
	}
	return &Charge{ProviderPaymentID: pi.ID, Status: intentStatus(pi)}, nil
}

// GetPayment re-fetches the authoritative payment state. Reservation
// payment refs are Checkout Session handles (cs_…), not PaymentIntent
// ids, so those resolve through the session first.
func (s *StripeProvider) GetPayment(ctx context.Context, providerPaymentID string) (*PaymentDetails, error) {
	if strings.HasPrefix(providerPaymentID, "cs_") {
		sessParams := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
		var sess *stripe.CheckoutSession
		err := s.call("checkout_get", func() error {
			var err error
			sess, err = session.Get(providerPaymentID, sessParams)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("get checkout session: %w", err)
		}
		if sess.PaymentIntent == nil {
			// Guest never completed checkout; no payment exists yet.
			raw, _ := json.Marshal(sess)
			return &PaymentDetails{
				ProviderPaymentID: sess.ID,
				Status:            StatusIndeterminate,
				Raw:               raw,
			}, nil
		}
		providerPaymentID = sess.PaymentIntent.ID
	}

	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}

	var pi *stripe.PaymentIntent
	err := s.call("payment_get", func() error {
		var err error
		pi, err = paymentintent.Get(providerPaymentID, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get payment intent: %w", err)
	}

	raw, _ := json.Marshal(pi)
	return &PaymentDetails{
		ProviderPaymentID: pi.ID,
		Status:            intentStatus(pi),
		Amount:            stripeAmount(pi.Amount, string(pi.Currency)),
		ExternalRef:       pi.Metadata[metadataRefKey],
		Raw:               raw,
	}, nil
}

// VerifyNotification checks the webhook signature and extracts the
// payment intent id from events that carry one.
func (s *StripeProvider) VerifyNotification(payload []byte, sigHeader string) (*Notification, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("construct event: %w", err)
	}

	n := &Notification{EventID: event.ID, Type: string(event.Type)}
	switch {
	case strings.HasPrefix(string(event.Type), "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent event: %w", err)
		}
		n.ProviderPaymentID = pi.ID
		n.ExternalRef = pi.Metadata[metadataRefKey]
	case event.Type == "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session event: %w", err)
		}
		if sess.PaymentIntent != nil {
			n.ProviderPaymentID = sess.PaymentIntent.ID
		}
	}
	return n, nil
}

// CreateCollectorAccount creates an Express connected account and its
// onboarding link.
func (s *StripeProvider) CreateCollectorAccount(ctx context.Context, email string) (string, string, error) {
	acctParams := &stripe.AccountParams{
		Params: stripe.Params{Context: ctx},
		Type:   stripe.String(string(stripe.AccountTypeExpress)),
		Email:  stripe.String(email),
	}
	var acct *stripe.Account
	err := s.call("account_create", func() error {
		var err error
		acct, err = account.New(acctParams)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("create connected account: %w", err)
	}

	linkParams := &stripe.AccountLinkParams{
		Params:     stripe.Params{Context: ctx},
		Account:    stripe.String(acct.ID),
		RefreshURL: stripe.String(s.onboardingURL),
		ReturnURL:  stripe.String(s.onboardingURL),
		Type:       stripe.String("account_onboarding"),
	}
	var link *stripe.AccountLink
	err = s.call("account_link", func() error {
		var err error
		link, err = accountlink.New(linkParams)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("create onboarding link: %w", err)
	}
	return acct.ID, link.URL, nil
}

// CreateCustomer creates the billing customer for subscription charges.
func (s *StripeProvider) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
	}
	var c *stripe.Customer
	err := s.call("customer_create", func() error {
		var err error
		c, err = customer.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

// intentStatus maps Stripe's intent lifecycle onto the ledger's parsed
// status. In-flight states stay indeterminate so a later definitive
// event can still land.
func intentStatus(pi *stripe.PaymentIntent) Status {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusApproved
	case stripe.PaymentIntentStatusCanceled:
		return StatusRejected
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return StatusRejected
		}
		return StatusIndeterminate
	default:
		return StatusIndeterminate
	}
}

func stripeAmount(amount int64, currency string) money.Money {
	m, err := money.New(amount, strings.ToUpper(currency))
	if err != nil {
		// Unknown currency from the provider; keep the raw figures.
		return money.Money{Amount: amount, Currency: strings.ToUpper(currency)}
	}
	return m
}
