package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/innkeep/innkeep/internal/idgen"
	"github.com/innkeep/innkeep/internal/traces"
)

// Processor turns provider notifications into at-most-one PaymentRecord
// each, then publishes the outcome. The notification itself is only a
// hint: the payment is re-fetched from the provider before anything is
// trusted.
type Processor struct {
	store      Store
	provider   Provider
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewProcessor creates the webhook processor.
func NewProcessor(store Store, provider Provider, dispatcher *Dispatcher, logger *slog.Logger) *Processor {
	return &Processor{
		store:      store,
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleNotification runs the full pipeline for one webhook delivery.
// A nil return means ack (including idempotent duplicates and
// indeterminate statuses). ErrBadSignature and ErrUnresolvableRef are
// rejections with no side effects; ErrProviderUnavailable asks the
// provider to redeliver.
func (p *Processor) HandleNotification(ctx context.Context, payload []byte, sigHeader string) error {
	n, err := p.provider.VerifyNotification(payload, sigHeader)
	if err != nil {
		webhookOutcomes.WithLabelValues("bad_signature").Inc()
		p.logger.Warn("webhook signature rejected", "error", err)
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if n.ProviderPaymentID == "" {
		// Not a payment event; nothing to do.
		webhookOutcomes.WithLabelValues("ignored").Inc()
		return nil
	}

	return p.process(ctx, n)
}

// Recover re-drives a payment that never arrived (or never completed) as a
// webhook. It synthesizes the missed notification and runs the normal
// pipeline: authoritative re-fetch, at-most-one record, publish. Used by
// reconciliation for stale pending reservations that hold a payment ref.
func (p *Processor) Recover(ctx context.Context, providerPaymentID string) error {
	if providerPaymentID == "" {
		return fmt.Errorf("%w: empty payment ref", ErrUnresolvableRef)
	}
	return p.process(ctx, &Notification{ProviderPaymentID: providerPaymentID})
}

func (p *Processor) process(ctx context.Context, n *Notification) error {
	ctx, span := traces.StartSpan(ctx, "payments.process",
		traces.PaymentID(n.ProviderPaymentID), traces.Reference(n.ExternalRef))
	defer span.End()

	if _, err := p.store.GetByProviderPaymentID(ctx, n.ProviderPaymentID); err == nil {
		webhookOutcomes.WithLabelValues("duplicate").Inc()
		p.logger.Info("duplicate webhook acked", "paymentId", n.ProviderPaymentID, "event", n.EventID)
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("lookup payment record: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, providerTimeout)
	details, err := p.provider.GetPayment(cctx, n.ProviderPaymentID)
	cancel()
	if err != nil {
		webhookOutcomes.WithLabelValues("fetch_failed").Inc()
		span.RecordError(err)
		p.logger.Warn("authoritative payment fetch failed",
			"paymentId", n.ProviderPaymentID, "error", err)
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if details.Status == StatusIndeterminate {
		// Ack without a record so a later definitive notification can land.
		webhookOutcomes.WithLabelValues("indeterminate").Inc()
		p.logger.Info("indeterminate payment status acked",
			"paymentId", n.ProviderPaymentID)
		return nil
	}

	// The fetch may resolve the ref to the provider's canonical payment
	// id (a checkout handle resolves to the payment it produced). Key the
	// record by the canonical id so a direct webhook for the same payment
	// dedupes against it, and re-check for an existing record under it.
	paymentID := n.ProviderPaymentID
	if details.ProviderPaymentID != "" && details.ProviderPaymentID != paymentID {
		paymentID = details.ProviderPaymentID
		if _, err := p.store.GetByProviderPaymentID(ctx, paymentID); err == nil {
			webhookOutcomes.WithLabelValues("duplicate").Inc()
			p.logger.Info("duplicate webhook acked", "paymentId", paymentID, "event", n.EventID)
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("lookup payment record: %w", err)
		}
	}

	ref := details.ExternalRef
	if ref == "" {
		ref = n.ExternalRef
	}
	kind, targetID, err := resolveTarget(ref)
	if err != nil {
		webhookOutcomes.WithLabelValues("unresolvable").Inc()
		p.logger.Error("webhook references no known aggregate",
			"paymentId", n.ProviderPaymentID, "externalRef", ref)
		return err
	}

	rec := &PaymentRecord{
		ID:                idgen.WithPrefix("pay_"),
		Provider:          p.provider.Name(),
		ProviderPaymentID: paymentID,
		TargetKind:        kind,
		TargetID:          targetID,
		ExternalRef:       ref,
		Status:            details.Status,
		Amount:            details.Amount,
		Raw:               details.Raw,
		CreatedAt:         time.Now(),
	}
	if err := p.store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			// Lost the race with a concurrent delivery; the winner
			// published.
			webhookOutcomes.WithLabelValues("duplicate").Inc()
			return nil
		}
		return fmt.Errorf("persist payment record: %w", err)
	}
	recordsWritten.WithLabelValues(string(kind), string(details.Status)).Inc()
	p.logger.Info("payment recorded",
		"recordId", rec.ID,
		"paymentId", rec.ProviderPaymentID,
		"target", rec.TargetID,
		"status", rec.Status,
		"amount", rec.Amount.String(),
	)

	p.dispatcher.Publish(ctx, &PaymentEvent{
		Record:   rec,
		Approved: details.Status == StatusApproved,
	})
	webhookOutcomes.WithLabelValues("recorded").Inc()
	return nil
}

// resolveTarget maps an external reference to its aggregate by id
// prefix.
func resolveTarget(ref string) (TargetKind, string, error) {
	switch {
	case strings.HasPrefix(ref, "res_"):
		return TargetReservation, ref, nil
	case strings.HasPrefix(ref, "sub_"):
		return TargetSubscription, ref, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnresolvableRef, ref)
	}
}
