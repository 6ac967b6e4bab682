// Package payments owns everything money-touching: charge creation
// through the provider, the split-payment router, the append-only
// payment ledger, and the idempotent webhook processor.
//
// Flow:
//  1. Booking core asks for a checkout → split router builds a
//     destination charge (site amount + platform commission)
//  2. Billing driver asks for an off-session subscription charge
//  3. Provider notifies → processor verifies, re-fetches the
//     authoritative payment, writes one PaymentRecord, publishes
//  4. Booking and subscription services consume published outcomes
//     and drive their own transitions
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

var (
	ErrNotFound            = errors.New("payments: record not found")
	ErrDuplicateRecord     = errors.New("payments: provider payment already recorded")
	ErrNoCollector         = errors.New("payments: site has no collector account")
	ErrBadSignature        = errors.New("payments: webhook signature verification failed")
	ErrUnresolvableRef     = errors.New("payments: external reference resolves to no aggregate")
	ErrProviderUnavailable = errors.New("payments: provider call failed")
)

// Status is the parsed outcome of a provider payment.
type Status string

const (
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	// StatusIndeterminate covers provider states that are neither final
	// success nor final failure. Never persisted.
	StatusIndeterminate Status = "indeterminate"
)

// TargetKind names the aggregate a payment settles.
type TargetKind string

const (
	TargetReservation  TargetKind = "reservation"
	TargetSubscription TargetKind = "subscription"
)

// PaymentRecord is one row of the append-only payment ledger. The
// unique ProviderPaymentID is the sole webhook-idempotency guard.
// Records are never updated or deleted.
type PaymentRecord struct {
	ID                string          `json:"id"`
	Provider          string          `json:"provider"`
	ProviderPaymentID string          `json:"providerPaymentId"`
	TargetKind        TargetKind      `json:"targetKind"`
	TargetID          string          `json:"targetId"`
	ExternalRef       string          `json:"externalRef"`
	Status            Status          `json:"status"`
	Amount            money.Money     `json:"amount"`
	Raw               json.RawMessage `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// RevenueSummary aggregates approved reservation payments for a site.
type RevenueSummary struct {
	Gross      money.Money `json:"gross"`
	Commission money.Money `json:"commission"`
	Net        money.Money `json:"net"`
	Count      int         `json:"count"`
}

// Store persists payment records.
type Store interface {
	// Create inserts a record; a duplicate ProviderPaymentID returns
	// ErrDuplicateRecord.
	Create(ctx context.Context, rec *PaymentRecord) error
	Get(ctx context.Context, id string) (*PaymentRecord, error)
	GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*PaymentRecord, error)
	ListByTarget(ctx context.Context, kind TargetKind, targetID string) ([]*PaymentRecord, error)
	// SumApproved aggregates approved reservation payments for a site's
	// reservations created in [from, to).
	SumApproved(ctx context.Context, targetIDs []string, from, to time.Time) (money.Money, int, error)
}

// ChargeRequest carries everything the provider needs to create a
// charge. CollectorID and ApplicationFee are set for split reservation
// charges; CustomerID for off-session subscription charges.
type ChargeRequest struct {
	ExternalRef    string
	Description    string
	Amount         money.Money
	ApplicationFee money.Money
	CollectorID    string
	CustomerID     string
	GuestEmail     string
	SuccessURL     string
	CancelURL      string
}

// Checkout is a hosted payment page handle.
type Checkout struct {
	ProviderPaymentID string
	URL               string
}

// Charge is the synchronous result of an off-session charge.
type Charge struct {
	ProviderPaymentID string
	Status            Status
}

// Notification is a verified but untrusted-in-detail provider event.
// Only the payment id is taken from it; everything else is re-fetched.
type Notification struct {
	EventID           string
	Type              string
	ProviderPaymentID string
	ExternalRef       string
}

// PaymentDetails is the authoritative state of a payment, fetched
// directly from the provider.
type PaymentDetails struct {
	ProviderPaymentID string
	Status            Status
	Amount            money.Money
	ExternalRef       string
	Raw               json.RawMessage
}

// Provider abstracts the payment provider.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req *ChargeRequest) (*Checkout, error)
	CreateSubscriptionCharge(ctx context.Context, req *ChargeRequest) (*Charge, error)
	GetPayment(ctx context.Context, providerPaymentID string) (*PaymentDetails, error)
	VerifyNotification(payload []byte, sigHeader string) (*Notification, error)
	CreateCollectorAccount(ctx context.Context, email string) (id, onboardingURL string, err error)
	CreateCustomer(ctx context.Context, email string) (id string, err error)
}

// SiteBilling resolves a site's provider handles for charge creation.
type SiteBilling interface {
	BillingIDs(ctx context.Context, siteID string) (collectorID, customerID string, err error)
}
