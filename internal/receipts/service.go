package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/innkeep/innkeep/internal/idgen"
)

// Service issues and verifies receipts. Nil-safe by construction: a nil
// Service or nil signer turns IssueReceipt into a no-op so the payment
// processor never has to care whether receipts are configured.
type Service struct {
	store  Store
	signer *Signer
}

func NewService(store Store, signer *Signer) *Service {
	return &Service{store: store, signer: signer}
}

// canonical builds the payload signed by HMAC. Alphabetical struct field
// order keeps the JSON encoding stable across versions.
func canonical(siteID string, kind TargetKind, targetID, paymentID string, amount int64, currency string) receiptPayload {
	return receiptPayload{
		Amount:    amount,
		Currency:  currency,
		Kind:      string(kind),
		PaymentID: paymentID,
		SiteID:    siteID,
		TargetID:  targetID,
	}
}

// IssueReceipt signs and persists a receipt for a settled payment.
func (s *Service) IssueReceipt(ctx context.Context, req IssueRequest) error {
	if s == nil || s.signer == nil {
		return nil
	}

	payload := canonical(req.SiteID, req.TargetKind, req.TargetID, req.PaymentID, req.Amount.Amount, req.Amount.Currency)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("receipts: marshal payload: %w", err)
	}

	sig, issuedAt, expiresAt, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("receipts: sign: %w", err)
	}

	return s.store.Create(ctx, &Receipt{
		ID:          idgen.WithPrefix("rcpt_"),
		SiteID:      req.SiteID,
		TargetKind:  req.TargetKind,
		TargetID:    req.TargetID,
		PaymentID:   req.PaymentID,
		Amount:      req.Amount,
		PayloadHash: fmt.Sprintf("%x", sha256.Sum256(data)),
		Signature:   sig,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	})
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// ListBySite returns receipts issued for a site's payments, newest first.
func (s *Service) ListBySite(ctx context.Context, siteID string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.ListBySite(ctx, siteID, limit)
}

// ListByTarget returns receipts for a reservation or subscription.
func (s *Service) ListByTarget(ctx context.Context, targetID string) ([]*Receipt, error) {
	return s.store.ListByTarget(ctx, targetID)
}

// Verify recomputes the stored receipt's signature and reports whether it
// still matches. Verification never returns a transport error for a bad
// or missing receipt; the response carries the failure instead.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{ReceiptID: receiptID, Error: ErrSigningDisabled.Error()}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{ReceiptID: receiptID, Error: ErrReceiptNotFound.Error()}, nil
	}

	payload := canonical(receipt.SiteID, receipt.TargetKind, receipt.TargetID, receipt.PaymentID, receipt.Amount.Amount, receipt.Amount.Currency)

	resp := &VerifyResponse{ReceiptID: receiptID}
	if !s.signer.Verify(payload, receipt.Signature) {
		resp.Error = "signature verification failed"
		return resp, nil
	}
	resp.Valid = true
	resp.Expired = time.Now().After(receipt.ExpiresAt)
	return resp, nil
}
