// Package receipts issues cryptographically signed receipts for settled payments.
//
// Every approved payment record produces a signed receipt that guests and site
// operators can independently verify long after the reservation is gone.
package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// TargetKind identifies what the underlying payment settled.
type TargetKind string

const (
	TargetReservation  TargetKind = "reservation"
	TargetSubscription TargetKind = "subscription"
)

// Receipt is a signed proof that the platform recorded a settled payment.
type Receipt struct {
	ID          string      `json:"id"`
	SiteID      string      `json:"siteId"`
	TargetKind  TargetKind  `json:"targetKind"`
	TargetID    string      `json:"targetId"`
	PaymentID   string      `json:"paymentId"`
	Amount      money.Money `json:"amount"`
	PayloadHash string      `json:"payloadHash"` // SHA-256 of canonical payload
	Signature   string      `json:"signature"`   // HMAC-SHA256 signature
	IssuedAt    time.Time   `json:"issuedAt"`
	ExpiresAt   time.Time   `json:"expiresAt"` // when the signature expires
	CreatedAt   time.Time   `json:"createdAt"`
}

// IssueRequest is the input for creating a receipt.
type IssueRequest struct {
	SiteID     string
	TargetKind TargetKind
	TargetID   string
	PaymentID  string
	Amount     money.Money
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipt data.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	ListBySite(ctx context.Context, siteID string, limit int) ([]*Receipt, error)
	ListByTarget(ctx context.Context, targetID string) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Kind      string `json:"kind"`
	PaymentID string `json:"paymentId"`
	SiteID    string `json:"siteId"`
	TargetID  string `json:"targetId"`
}
