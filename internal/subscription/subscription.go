// Package subscription governs operator billing: trial, recurring
// charges, dunning with exponential backoff, grace-period suspension,
// and cancellation.
//
// Flow:
//  1. Site registers → subscription created in trial, no charge
//  2. Trial lapses → billing driver activates and initiates the first charge
//  3. Charge fails → payment_failed with a 7-day grace window and retries
//  4. A successful charge recovers; grace expiry suspends
//  5. Cancellation stops billing from any non-terminal state
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

var (
	ErrNotFound         = errors.New("subscription: not found")
	ErrAlreadyExists    = errors.New("subscription: site already has a subscription")
	ErrTerminal         = errors.New("subscription: already cancelled")
	ErrNotRetryable     = errors.New("subscription: not in payment_failed")
	ErrRetriesExhausted = errors.New("subscription: retry attempts exhausted")
	ErrChargeDeclined   = errors.New("subscription: charge declined")
	ErrUnknownPlan      = errors.New("subscription: unknown plan")
)

// Status represents a subscription's lifecycle state.
type Status string

const (
	StatusTrial         Status = "trial"          // No charge yet; fixed trial window
	StatusActive        Status = "active"         // Billed monthly
	StatusPaymentFailed Status = "payment_failed" // Last charge failed; dunning in progress
	StatusSuspended     Status = "suspended"      // Grace deadline passed without recovery
	StatusCancelled     Status = "cancelled"      // Terminal; billing stopped
)

// IsTerminal returns true if the subscription can no longer transition.
func (s Status) IsTerminal() bool { return s == StatusCancelled }

// Billing cadence defaults.
const (
	DefaultTrialDays     = 30
	DefaultGraceDays     = 7
	DefaultRetryBase     = 6 * time.Hour
	DefaultRetryMaxCount = 5
)

// Subscription is the operator billing record, one per site.
type Subscription struct {
	ID              string     `json:"id"`
	SiteID          string     `json:"siteId"`
	Plan            PlanID     `json:"plan"`
	Status          Status     `json:"status"`
	TrialEnd        time.Time  `json:"trialEnd"`
	PeriodStart     time.Time  `json:"periodStart"`
	PeriodEnd       time.Time  `json:"periodEnd"`
	PaymentFailedAt *time.Time `json:"paymentFailedAt,omitempty"`
	GraceDeadline   *time.Time `json:"graceDeadline,omitempty"`
	RetryCount      int        `json:"retryCount"`
	NextRetryAt     *time.Time `json:"nextRetryAt,omitempty"`
	LastPaymentID   string     `json:"lastPaymentId,omitempty"` // provider payment id of the last applied outcome
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// InGrace reports whether a payment_failed subscription is still within
// its grace window at the given instant.
func (s *Subscription) InGrace(now time.Time) bool {
	return s.Status == StatusPaymentFailed &&
		s.GraceDeadline != nil && !now.After(*s.GraceDeadline)
}

// Store persists subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetBySite(ctx context.Context, siteID string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	List(ctx context.Context, limit int) ([]*Subscription, error)

	// Driver work lists; all bounded and ordered by urgency.
	ListDueTrials(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	ListDueRenewals(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}

// Charger initiates an off-session recurring charge with the payment
// provider. The returned provider payment id keys idempotent outcome
// application. A wrapped ErrChargeDeclined means the provider refused
// the charge; anything else is transient.
type Charger interface {
	ChargeSubscription(ctx context.Context, sub *Subscription, amount money.Money) (providerPaymentID string, err error)
}

// SiteMirror mirrors subscription outcomes onto the owning site.
type SiteMirror interface {
	MarkActive(ctx context.Context, siteID string) error
	MarkSuspended(ctx context.Context, siteID string) error
	MarkCancelled(ctx context.Context, siteID string) error
}

// Notifier receives subscription lifecycle events. Implementations must
// not block.
type Notifier interface {
	SubscriptionChanged(sub *Subscription)
}
