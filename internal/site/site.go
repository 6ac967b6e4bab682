// Package site manages the multi-tenant catalogue: lodging sites and the
// accommodation types they sell. A site belongs to one operator, carries
// the connected payment collector, and mirrors its subscription outcome
// in its status.
package site

import (
	"context"
	"errors"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

var (
	ErrNotFound      = errors.New("site: not found")
	ErrTypeNotFound  = errors.New("site: accommodation type not found")
	ErrSlugTaken     = errors.New("site: slug already taken")
	ErrPlanLimit     = errors.New("site: plan limit reached")
	ErrNotOnboarded  = errors.New("site: payment collector not connected")
	ErrInvalidBounds = errors.New("site: invalid guest bounds")
)

// Status mirrors the operator subscription outcome onto the site.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Site represents an independently-operated lodging property.
type Site struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	OperatorEmail string    `json:"operatorEmail"`
	CollectorID   string    `json:"collectorId,omitempty"` // connected payment account, empty until onboarded
	CustomerID    string    `json:"customerId,omitempty"`  // provider customer for subscription charges
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AccommodationType is a bounded pool of interchangeable units a site sells.
type AccommodationType struct {
	ID            string      `json:"id"`
	SiteID        string      `json:"siteId"`
	Name          string      `json:"name"`
	CapacityUnits int         `json:"capacityUnits"`
	MinGuests     int         `json:"minGuests"`
	MaxGuests     int         `json:"maxGuests"`
	NightlyRate   money.Money `json:"nightlyRate"`
	Active        bool        `json:"active"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Store persists sites and their accommodation types.
type Store interface {
	Create(ctx context.Context, s *Site) error
	Get(ctx context.Context, id string) (*Site, error)
	GetBySlug(ctx context.Context, slug string) (*Site, error)
	Update(ctx context.Context, s *Site) error
	List(ctx context.Context, limit int) ([]*Site, error)

	CreateType(ctx context.Context, at *AccommodationType) error
	GetType(ctx context.Context, id string) (*AccommodationType, error)
	UpdateType(ctx context.Context, at *AccommodationType) error
	ListTypes(ctx context.Context, siteID string) ([]*AccommodationType, error)
	CountTypes(ctx context.Context, siteID string) (int, error)
	SumUnits(ctx context.Context, siteID string) (int, error)
}

// SubscriptionStarter opens the operator's trial subscription at signup.
type SubscriptionStarter interface {
	StartTrial(ctx context.Context, siteID, plan string) error
}

// SubscriptionChecker reports whether a site's subscription permits
// taking bookings, and the plan limits on the catalogue.
type SubscriptionChecker interface {
	Usable(ctx context.Context, siteID string) (bool, string, error)
	CatalogueLimits(ctx context.Context, siteID string) (maxTypes, maxUnits int, err error)
}

// KeyIssuer mints the first API key at registration.
type KeyIssuer interface {
	IssueKey(ctx context.Context, siteID, name string) (rawKey string, err error)
}

// CollectorOnboarder creates a connected payment account for split payouts.
type CollectorOnboarder interface {
	CreateCollectorAccount(ctx context.Context, email string) (id, onboardingURL string, err error)
}
