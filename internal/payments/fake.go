package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/innkeep/innkeep/internal/idgen"
)

// FakeProvider is an in-memory Provider for dev mode and tests. Charges
// approve unless the request's external ref is scripted to decline, and
// notifications are signed with a plain HMAC over the payload.
type FakeProvider struct {
	Secret string

	mu       sync.Mutex
	payments map[string]*PaymentDetails
	declines map[string]bool
	down     bool
}

// NewFakeProvider creates a fake provider with the given webhook
// secret.
func NewFakeProvider(secret string) *FakeProvider {
	return &FakeProvider{
		Secret:   secret,
		payments: make(map[string]*PaymentDetails),
		declines: make(map[string]bool),
	}
}

var _ Provider = (*FakeProvider)(nil)

func (f *FakeProvider) Name() string { return "fake" }

// DeclineNext scripts a decline for charges referencing the given
// aggregate.
func (f *FakeProvider) DeclineNext(externalRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declines[externalRef] = true
}

// SetDown makes every provider call fail until restored.
func (f *FakeProvider) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *FakeProvider) CreateCheckout(_ context.Context, req *ChargeRequest) (*Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("fake provider unavailable")
	}
	id := idgen.WithPrefix("pi_fake_")
	f.record(id, req, StatusIndeterminate)
	return &Checkout{ProviderPaymentID: id, URL: "https://pay.fake.test/" + id}, nil
}

func (f *FakeProvider) CreateSubscriptionCharge(_ context.Context, req *ChargeRequest) (*Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("fake provider unavailable")
	}
	id := idgen.WithPrefix("pi_fake_")
	if f.declines[req.ExternalRef] {
		delete(f.declines, req.ExternalRef)
		f.record(id, req, StatusRejected)
		return nil, &DeclinedError{ProviderPaymentID: id, Reason: "card_declined"}
	}
	f.record(id, req, StatusApproved)
	return &Charge{ProviderPaymentID: id, Status: StatusApproved}, nil
}

// record must run under f.mu.
func (f *FakeProvider) record(id string, req *ChargeRequest, status Status) {
	raw, _ := json.Marshal(map[string]string{"id": id, "ref": req.ExternalRef})
	f.payments[id] = &PaymentDetails{
		ProviderPaymentID: id,
		Status:            status,
		Amount:            req.Amount,
		ExternalRef:       req.ExternalRef,
		Raw:               raw,
	}
}

// SettlePayment marks a pending fake payment approved or rejected, as
// the real provider would after guest checkout.
func (f *FakeProvider) SettlePayment(id string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[id]; ok {
		p.Status = status
	}
}

// RegisterPayment seeds a payment the fake never created itself.
func (f *FakeProvider) RegisterPayment(details *PaymentDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[details.ProviderPaymentID] = details
}

func (f *FakeProvider) GetPayment(_ context.Context, id string) (*PaymentDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("fake provider unavailable")
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("fake provider: no payment %s", id)
	}
	cp := *p
	return &cp, nil
}

// fakeNotification is the payload shape SignNotification produces.
type fakeNotification struct {
	EventID           string `json:"eventId"`
	Type              string `json:"type"`
	ProviderPaymentID string `json:"providerPaymentId"`
	ExternalRef       string `json:"externalRef"`
}

// SignNotification builds a signed webhook payload for tests and dev
// tooling.
func (f *FakeProvider) SignNotification(eventType, providerPaymentID, externalRef string) (payload []byte, sig string) {
	body, _ := json.Marshal(fakeNotification{
		EventID:           idgen.WithPrefix("evt_"),
		Type:              eventType,
		ProviderPaymentID: providerPaymentID,
		ExternalRef:       externalRef,
	})
	return body, f.sign(body)
}

func (f *FakeProvider) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(f.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *FakeProvider) VerifyNotification(payload []byte, sigHeader string) (*Notification, error) {
	if !hmac.Equal([]byte(f.sign(payload)), []byte(sigHeader)) {
		return nil, fmt.Errorf("fake provider: signature mismatch")
	}
	var n fakeNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("fake provider: decode notification: %w", err)
	}
	return &Notification{
		EventID:           n.EventID,
		Type:              n.Type,
		ProviderPaymentID: n.ProviderPaymentID,
		ExternalRef:       n.ExternalRef,
	}, nil
}

func (f *FakeProvider) CreateCollectorAccount(_ context.Context, email string) (string, string, error) {
	id := idgen.WithPrefix("acct_fake_")
	return id, "https://onboard.fake.test/" + id, nil
}

func (f *FakeProvider) CreateCustomer(_ context.Context, email string) (string, error) {
	return idgen.WithPrefix("cus_fake_"), nil
}
