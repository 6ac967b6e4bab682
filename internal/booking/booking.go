// Package booking provides the concurrency-safe reservation core.
//
// Flow:
//  1. Guest requests a stay → availability computed under a per-type lock
//  2. Rules pass → reservation created pending with a payment deadline
//  3. Charge initiated → guest redirected to the hosted checkout
//  4. Payment webhook confirms or rejects the reservation
//  5. Sweeper expires pending reservations whose deadline passed
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/innkeep/innkeep/internal/money"
	"github.com/innkeep/innkeep/internal/pagination"
)

var (
	ErrNotFound       = errors.New("booking: reservation not found")
	ErrBadCursor      = errors.New("booking: invalid pagination cursor")
	ErrTypeNotFound   = errors.New("booking: accommodation type not found")
	ErrNoUnits        = errors.New("booking: no units available")
	ErrInvalidRange   = errors.New("booking: invalid date range")
	ErrNotCancellable = errors.New("booking: only confirmed reservations can be cancelled")
	ErrChargeStart    = errors.New("booking: charge creation failed")
)

// Status represents the state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"   // Created, awaiting payment
	StatusConfirmed Status = "confirmed" // Payment approved
	StatusRejected  Status = "rejected"  // Payment rejected or charge never started
	StatusExpired   Status = "expired"   // Payment window elapsed
	StatusCancelled Status = "cancelled" // Confirmed stay cancelled
)

// IsTerminal returns true if the reservation is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsActive returns true if the reservation holds a unit: pending and
// confirmed reservations both count against capacity.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// PaymentStatus tracks the settlement side of a reservation.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

// GuestInfo holds the contact details captured with a booking.
type GuestInfo struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

// Reservation is a stay held against an accommodation type's capacity.
// After creation it is advanced only by the payment event subscriber,
// the expiry sweeper, or an explicit cancellation.
type Reservation struct {
	ID                  string        `json:"id"`
	SiteID              string        `json:"siteId"`
	AccommodationTypeID string        `json:"accommodationTypeId"`
	Range               DateRange     `json:"range"`
	Guests              int           `json:"guests"`
	Guest               GuestInfo     `json:"guest"`
	TotalPrice          money.Money   `json:"totalPrice"`
	Status              Status        `json:"status"`
	PaymentStatus       PaymentStatus `json:"paymentStatus"`
	PaymentRef          string        `json:"paymentRef,omitempty"` // provider checkout/payment handle
	CheckoutURL         string        `json:"checkoutUrl,omitempty"`
	ExpiresAt           time.Time     `json:"expiresAt"`
	ConfirmedAt         *time.Time    `json:"confirmedAt,omitempty"`
	CancelledAt         *time.Time    `json:"cancelledAt,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// Availability is the result of a free-unit computation.
type Availability struct {
	Available bool `json:"available"`
	FreeUnits int  `json:"freeUnits"`
}

// CreateRequest contains the parameters for creating a reservation.
// Dates arrive pre-parsed; handlers own the wire format.
type CreateRequest struct {
	AccommodationTypeID string
	Range               DateRange
	Guests              int
	Guest               GuestInfo
}

// Store persists reservation data.
type Store interface {
	// CreateIfAvailable inserts the reservation only if active overlapping
	// reservations stay within capacityUnits. The postgres implementation
	// locks the accommodation type row for the count-then-insert sequence;
	// returns ErrNoUnits when capacity is exhausted.
	CreateIfAvailable(ctx context.Context, r *Reservation, capacityUnits int) error
	Get(ctx context.Context, id string) (*Reservation, error)
	Update(ctx context.Context, r *Reservation) error
	ListBySite(ctx context.Context, siteID string, limit int) ([]*Reservation, error)
	// ListBySitePage returns reservations strictly older than the cursor,
	// newest first; a nil cursor starts from the newest.
	ListBySitePage(ctx context.Context, siteID string, before *pagination.Cursor, limit int) ([]*Reservation, error)
	CountActiveOverlapping(ctx context.Context, typeID string, dr DateRange, excludeID string) (int, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Reservation, error)
	ListConfirmedSince(ctx context.Context, since time.Time, limit int) ([]*Reservation, error)
}

// TypeInfo is the slice of an accommodation type the booking path needs.
type TypeInfo struct {
	ID            string
	SiteID        string
	Name          string
	CapacityUnits int
	MinGuests     int
	MaxGuests     int
	NightlyRate   money.Money
	Active        bool
}

// TypeDirectory resolves accommodation types without importing the site package.
type TypeDirectory interface {
	LookupType(ctx context.Context, typeID string) (*TypeInfo, error)
}

// SiteGate reports whether a site can accept new bookings (site active and
// its subscription in a usable state).
type SiteGate interface {
	SiteAccepting(ctx context.Context, siteID string) (bool, string, error)
}

// Checkout is the provider handoff returned by charge creation.
type Checkout struct {
	PaymentRef  string
	CheckoutURL string
}

// ChargeStarter initiates the split payment for a fresh reservation.
type ChargeStarter interface {
	StartCharge(ctx context.Context, r *Reservation) (*Checkout, error)
}

// Notifier receives reservation lifecycle events. Implementations must not block.
type Notifier interface {
	ReservationChanged(r *Reservation)
}
