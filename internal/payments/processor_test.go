package payments

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/innkeep/innkeep/internal/money"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturedEvents struct {
	mu     sync.Mutex
	events []*PaymentEvent
}

func (c *capturedEvents) handler(_ context.Context, ev *PaymentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturedEvents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestProcessor() (*Processor, *MemoryStore, *FakeProvider, *capturedEvents) {
	store := NewMemoryStore()
	provider := NewFakeProvider("whsec_test")
	dispatcher := NewDispatcher(testLogger())
	captured := &capturedEvents{}
	dispatcher.Subscribe(captured.handler)
	return NewProcessor(store, provider, dispatcher, testLogger()), store, provider, captured
}

func seedPayment(provider *FakeProvider, id, ref string, status Status) {
	provider.RegisterPayment(&PaymentDetails{
		ProviderPaymentID: id,
		Status:            status,
		Amount:            money.MustNew(40000, "EUR"),
		ExternalRef:       ref,
		Raw:               []byte(`{"id":"` + id + `"}`),
	})
}

func TestWebhookCreatesRecordAndPublishes(t *testing.T) {
	proc, store, provider, captured := newTestProcessor()
	seedPayment(provider, "pi_1", "res_abc", StatusApproved)
	payload, sig := provider.SignNotification("payment_intent.succeeded", "pi_1", "res_abc")

	if err := proc.HandleNotification(context.Background(), payload, sig); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}

	rec, err := store.GetByProviderPaymentID(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("GetByProviderPaymentID: %v", err)
	}
	if rec.TargetKind != TargetReservation || rec.TargetID != "res_abc" {
		t.Errorf("target = %s/%s, want reservation/res_abc", rec.TargetKind, rec.TargetID)
	}
	if rec.Status != StatusApproved {
		t.Errorf("status = %s, want approved", rec.Status)
	}
	if captured.count() != 1 {
		t.Errorf("events = %d, want 1", captured.count())
	}
	if !captured.events[0].Approved {
		t.Error("expected approved event")
	}
}

func TestWebhookIdempotentAcrossRedelivery(t *testing.T) {
	proc, store, provider, captured := newTestProcessor()
	seedPayment(provider, "pi_1", "res_abc", StatusApproved)
	payload, sig := provider.SignNotification("payment_intent.succeeded", "pi_1", "res_abc")

	for i := 0; i < 5; i++ {
		if err := proc.HandleNotification(context.Background(), payload, sig); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	recs, err := store.ListByTarget(context.Background(), TargetReservation, "res_abc")
	if err != nil {
		t.Fatalf("ListByTarget: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("records = %d, want exactly 1", len(recs))
	}
	if captured.count() != 1 {
		t.Errorf("events = %d, want exactly 1", captured.count())
	}
}

func TestWebhookConcurrentDeliveries(t *testing.T) {
	proc, store, provider, captured := newTestProcessor()
	seedPayment(provider, "pi_1", "res_abc", StatusApproved)
	payload, sig := provider.SignNotification("payment_intent.succeeded", "pi_1", "res_abc")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = proc.HandleNotification(context.Background(), payload, sig)
		}()
	}
	wg.Wait()

	recs, _ := store.ListByTarget(context.Background(), TargetReservation, "res_abc")
	if len(recs) != 1 {
		t.Errorf("records = %d, want exactly 1 under concurrent delivery", len(recs))
	}
	if captured.count() != 1 {
		t.Errorf("events = %d, want exactly 1", captured.count())
	}
}

func TestWebhookBadSignatureNoSideEffects(t *testing.T) {
	proc, store, provider, captured := newTestProcessor()
	seedPayment(provider, "pi_1", "res_abc", StatusApproved)
	payload, _ := provider.SignNotification("payment_intent.succeeded", "pi_1", "res_abc")

	err := proc.HandleNotification(context.Background(), payload, "tampered")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
	if _, err := store.GetByProviderPaymentID(context.Background(), "pi_1"); !errors.Is(err, ErrNotFound) {
		t.Error("signature rejection must not write a record")
	}
	if captured.count() != 0 {
		t.Error("signature rejection must not publish")
	}
}

func TestWebhookTrustsRefetchNotNotification(t *testing.T) {
	// The notification claims success but the authoritative fetch says
	// rejected; the ledger records what the provider actually holds.
	proc, store, provider, _ := newTestProcessor()
	seedPayment(provider, "pi_1", "res_abc", StatusRejected)
	payload, sig := provider.SignNotification("payment_intent.succeeded", "pi_1", "res_abc")

	if err := proc.HandleNotification(context.Background(), payload, sig); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	rec, _ := store.GetByProviderPaymentID(context.Background(), "pi_1")
	if rec.Status != StatusRejected {
		t.Errorf("status = %s, want rejected from the authoritative fetch", rec.Status)
	}
}

func TestWebhookIndeterminateAckedWithoutRecord(t *testing.T) {
	proc, store, provider, captured := newTestProcessor()
	seedPayment(provider, "pi_1", "res_abc", StatusIndeterminate)
	payload, sig := provider.SignNotification("payment_intent.created", "pi_1", "res_abc")

	if err := proc.HandleNotification(context.Background(), payload, sig); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if _, err := store.GetByProviderPaymentID(context.Background(), "pi_1"); !errors.Is(err, ErrNotFound) {
		t.Error("indeterminate status must not write a record")
	}
	if captured.count() != 0 {
		t.Error("indeterminate status must not publish")
	}

	// The definitive notification can still land later.
	provider.SettlePayment("pi_1", StatusApproved)
	if err := proc.HandleNotification(context.Background(), payload, sig); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if _, err := store.GetByProviderPaymentID(context.Background(), "pi_1"); err != nil {
		t.Error("definitive notification should record after an indeterminate ack")
	}
}

func TestWebhookUnresolvableReference(t *testing.T) {
	proc, store, provider, _ := newTestProcessor()
	seedPayment(provider, "pi_1", "order_999", StatusApproved)
	payload, sig := provider.SignNotification("payment_intent.succeeded", "pi_1", "order_999")

	err := proc.HandleNotification(context.Background(), payload, sig)
	if !errors.Is(err, ErrUnresolvableRef) {
		t.Fatalf("err = %v, want ErrUnresolvableRef", err)
	}
	if _, err := store.GetByProviderPaymentID(context.Background(), "pi_1"); !errors.Is(err, ErrNotFound) {
		t.Error("unresolvable reference must not write a record")
	}
}

func TestWebhookFetchFailureAsksForRedelivery(t *testing.T) {
	proc, store, provider, _ := newTestProcessor()
	seedPayment(provider, "pi_1", "res_abc", StatusApproved)
	payload, sig := provider.SignNotification("payment_intent.succeeded", "pi_1", "res_abc")

	provider.SetDown(true)
	err := proc.HandleNotification(context.Background(), payload, sig)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}

	provider.SetDown(false)
	if err := proc.HandleNotification(context.Background(), payload, sig); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if _, err := store.GetByProviderPaymentID(context.Background(), "pi_1"); err != nil {
		t.Error("redelivery after transient failure should record")
	}
}

// checkoutHandleProvider mimics the real provider's id shapes: checkout
// refs resolve to the canonical payment id they produced.
type checkoutHandleProvider struct {
	*FakeProvider
	handles map[string]string
}

func (p *checkoutHandleProvider) GetPayment(ctx context.Context, id string) (*PaymentDetails, error) {
	if canonical, ok := p.handles[id]; ok {
		id = canonical
	}
	return p.FakeProvider.GetPayment(ctx, id)
}

func TestRecoverResolvesCheckoutHandle(t *testing.T) {
	store := NewMemoryStore()
	base := NewFakeProvider("whsec_test")
	seedPayment(base, "pi_1", "res_abc", StatusApproved)
	provider := &checkoutHandleProvider{
		FakeProvider: base,
		handles:      map[string]string{"cs_1": "pi_1"},
	}
	dispatcher := NewDispatcher(testLogger())
	captured := &capturedEvents{}
	dispatcher.Subscribe(captured.handler)
	proc := NewProcessor(store, provider, dispatcher, testLogger())

	// Reservations hold the checkout handle, not the payment id; the
	// rescue must still land the record under the canonical id.
	if err := proc.Recover(context.Background(), "cs_1"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	rec, err := store.GetByProviderPaymentID(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("record not keyed by canonical payment id: %v", err)
	}
	if rec.TargetID != "res_abc" || rec.Status != StatusApproved {
		t.Errorf("record = %s/%s, want res_abc/approved", rec.TargetID, rec.Status)
	}
	if _, err := store.GetByProviderPaymentID(context.Background(), "cs_1"); !errors.Is(err, ErrNotFound) {
		t.Error("no record may be keyed by the checkout handle")
	}
	if captured.count() != 1 {
		t.Fatalf("events = %d, want 1", captured.count())
	}

	// A repeat rescue and the payment's own webhook are both duplicates.
	if err := proc.Recover(context.Background(), "cs_1"); err != nil {
		t.Fatalf("repeat Recover: %v", err)
	}
	payload, sig := base.SignNotification("payment_intent.succeeded", "pi_1", "res_abc")
	if err := proc.HandleNotification(context.Background(), payload, sig); err != nil {
		t.Fatalf("webhook after rescue: %v", err)
	}
	recs, _ := store.ListByTarget(context.Background(), TargetReservation, "res_abc")
	if len(recs) != 1 {
		t.Errorf("records = %d, want exactly 1", len(recs))
	}
	if captured.count() != 1 {
		t.Errorf("events = %d, want exactly 1", captured.count())
	}
}

func TestResolveTargetPrefixes(t *testing.T) {
	kind, id, err := resolveTarget("res_123")
	if err != nil || kind != TargetReservation || id != "res_123" {
		t.Errorf("resolveTarget(res_123) = %s/%s/%v", kind, id, err)
	}
	kind, id, err = resolveTarget("sub_456")
	if err != nil || kind != TargetSubscription || id != "sub_456" {
		t.Errorf("resolveTarget(sub_456) = %s/%s/%v", kind, id, err)
	}
}
