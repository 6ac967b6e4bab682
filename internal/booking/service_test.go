package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

// mockDirectory resolves a fixed set of accommodation types.
type mockDirectory struct {
	types map[string]*TypeInfo
}

func (m *mockDirectory) LookupType(_ context.Context, typeID string) (*TypeInfo, error) {
	info, ok := m.types[typeID]
	if !ok {
		return nil, ErrTypeNotFound
	}
	cp := *info
	return &cp, nil
}

// mockGate reports a configurable site standing.
type mockGate struct {
	accepting bool
	reason    string
}

func (m *mockGate) SiteAccepting(_ context.Context, _ string) (bool, string, error) {
	return m.accepting, m.reason, nil
}

// mockCharger counts charge starts and can fail on demand.
type mockCharger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockCharger) StartCharge(_ context.Context, r *Reservation) (*Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &Checkout{
		PaymentRef:  "pi_" + r.ID,
		CheckoutURL: "https://checkout.example/" + r.ID,
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(capacity int) (*Service, *MemoryStore, *mockCharger) {
	store := NewMemoryStore()
	dir := &mockDirectory{types: map[string]*TypeInfo{
		"acc_test": {
			ID:            "acc_test",
			SiteID:        "site_test",
			Name:          "Forest Cabin",
			CapacityUnits: capacity,
			MinGuests:     1,
			MaxGuests:     4,
			NightlyRate:   money.MustNew(10000, "EUR"),
			Active:        true,
		},
	}}
	charger := &mockCharger{}
	svc := NewService(store, dir, &mockGate{accepting: true}, charger, testLogger())
	return svc, store, charger
}

func testCreateRequest(t *testing.T) CreateRequest {
	t.Helper()
	start := time.Now().UTC().AddDate(0, 1, 0)
	dr, err := NewDateRange(start, start.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("NewDateRange: %v", err)
	}
	return CreateRequest{
		AccommodationTypeID: "acc_test",
		Range:               dr,
		Guests:              2,
		Guest:               GuestInfo{FullName: "Ada Guest", Email: "ada@example.com"},
	}
}

func TestCreateReservation(t *testing.T) {
	svc, _, charger := newTestService(2)
	ctx := context.Background()

	r, err := svc.Create(ctx, testCreateRequest(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}
	if r.TotalPrice.Amount != 40000 {
		t.Errorf("total = %d, want 40000 (4 nights x 100.00)", r.TotalPrice.Amount)
	}
	if r.CheckoutURL == "" || r.PaymentRef == "" {
		t.Error("expected checkout handle on the created reservation")
	}
	if r.ExpiresAt.Before(time.Now().Add(9 * time.Minute)) {
		t.Errorf("expiry %v not ~10 minutes out", r.ExpiresAt)
	}
	if charger.calls != 1 {
		t.Errorf("charge starts = %d, want 1", charger.calls)
	}
}

func TestCreateCapacityExhausted(t *testing.T) {
	svc, _, _ := newTestService(1)
	ctx := context.Background()

	if _, err := svc.Create(ctx, testCreateRequest(t)); err != nil {
		t.Fatalf("first Create: %v", err)
	}

	_, err := svc.Create(ctx, testCreateRequest(t))
	var violation *RuleViolation
	if !errors.As(err, &violation) || violation.Rule != "units_free" {
		t.Fatalf("second Create err = %v, want units_free violation", err)
	}
}

func TestCreateAdjacentRangesShareUnit(t *testing.T) {
	svc, _, _ := newTestService(1)
	ctx := context.Background()

	first := testCreateRequest(t)
	if _, err := svc.Create(ctx, first); err != nil {
		t.Fatalf("first Create: %v", err)
	}

	// Back-to-back stay starting the day the first ends: no overlap.
	second := testCreateRequest(t)
	dr, err := NewDateRange(first.Range.End, first.Range.End.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("NewDateRange: %v", err)
	}
	second.Range = dr
	if _, err := svc.Create(ctx, second); err != nil {
		t.Fatalf("adjacent Create: %v", err)
	}
}

// TestConcurrentBookingInvariant races N goroutines at a capacity-1 type:
// exactly one reservation may win, everyone else gets a validation error.
func TestConcurrentBookingInvariant(t *testing.T) {
	svc, store, _ := newTestService(1)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, testCreateRequest(t))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var created, refused int
	for err := range results {
		switch {
		case err == nil:
			created++
		default:
			var violation *RuleViolation
			if !errors.As(err, &violation) && !errors.Is(err, ErrNoUnits) {
				t.Errorf("unexpected error kind: %v", err)
			}
			refused++
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
	if refused != attempts-1 {
		t.Fatalf("refused = %d, want %d", refused, attempts-1)
	}

	req := testCreateRequest(t)
	count, err := store.CountActiveOverlapping(ctx, "acc_test", req.Range, "")
	if err != nil {
		t.Fatalf("CountActiveOverlapping: %v", err)
	}
	if count != 1 {
		t.Fatalf("active overlapping = %d, capacity invariant broken", count)
	}
}

func TestCreateChargeFailureCompensates(t *testing.T) {
	svc, store, charger := newTestService(1)
	charger.err = errors.New("provider unavailable")
	ctx := context.Background()

	_, err := svc.Create(ctx, testCreateRequest(t))
	if !errors.Is(err, ErrChargeStart) {
		t.Fatalf("err = %v, want ErrChargeStart", err)
	}

	// The unit must be free again: the failed reservation was rejected.
	req := testCreateRequest(t)
	count, err := store.CountActiveOverlapping(ctx, "acc_test", req.Range, "")
	if err != nil {
		t.Fatalf("CountActiveOverlapping: %v", err)
	}
	if count != 0 {
		t.Fatalf("active = %d after charge failure, unit not released", count)
	}

	charger.err = nil
	if _, err := svc.Create(ctx, testCreateRequest(t)); err != nil {
		t.Fatalf("Create after compensation: %v", err)
	}
}

func TestApprovePayment(t *testing.T) {
	svc, store, _ := newTestService(1)
	ctx := context.Background()

	r, err := svc.Create(ctx, testCreateRequest(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.ApprovePayment(ctx, r.ID, "pi_abc"); err != nil {
		t.Fatalf("ApprovePayment: %v", err)
	}

	got, _ := store.Get(ctx, r.ID)
	if got.Status != StatusConfirmed || got.PaymentStatus != PaymentPaid {
		t.Errorf("status = %s/%s, want confirmed/paid", got.Status, got.PaymentStatus)
	}
	if got.ConfirmedAt == nil {
		t.Error("ConfirmedAt not set")
	}

	// Duplicate approval: no-op, no error (webhook retries must be safe).
	if err := svc.ApprovePayment(ctx, r.ID, "pi_abc"); err != nil {
		t.Fatalf("duplicate ApprovePayment: %v", err)
	}
}

func TestRejectPayment(t *testing.T) {
	svc, store, _ := newTestService(1)
	ctx := context.Background()

	r, err := svc.Create(ctx, testCreateRequest(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.RejectPayment(ctx, r.ID, "pi_abc"); err != nil {
		t.Fatalf("RejectPayment: %v", err)
	}
	got, _ := store.Get(ctx, r.ID)
	if got.Status != StatusRejected || got.PaymentStatus != PaymentFailed {
		t.Errorf("status = %s/%s, want rejected/failed", got.Status, got.PaymentStatus)
	}

	// An approval arriving after the rejection is a logged conflict, not
	// an error, and must not resurrect the reservation.
	if err := svc.ApprovePayment(ctx, r.ID, "pi_abc"); err != nil {
		t.Fatalf("out-of-order ApprovePayment: %v", err)
	}
	got, _ = store.Get(ctx, r.ID)
	if got.Status != StatusRejected {
		t.Errorf("status = %s after stale approval, want rejected", got.Status)
	}
}

func TestExpireReleasesUnit(t *testing.T) {
	svc, store, _ := newTestService(1)
	svc.WithReservationTTL(time.Minute)
	ctx := context.Background()

	r, err := svc.Create(ctx, testCreateRequest(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Move the clock past the payment window.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if err := svc.Expire(ctx, r); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	got, _ := store.Get(ctx, r.ID)
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}

	// The unit is countable as free again.
	svc.now = time.Now
	if _, err := svc.Create(ctx, testCreateRequest(t)); err != nil {
		t.Fatalf("Create after expiry: %v", err)
	}
}

func TestExpireSkipsConfirmed(t *testing.T) {
	svc, store, _ := newTestService(1)
	svc.WithReservationTTL(time.Minute)
	ctx := context.Background()

	r, err := svc.Create(ctx, testCreateRequest(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.ApprovePayment(ctx, r.ID, ""); err != nil {
		t.Fatalf("ApprovePayment: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := svc.Expire(ctx, r); err != nil {
		t.Fatalf("Expire on confirmed: %v", err)
	}
	got, _ := store.Get(ctx, r.ID)
	if got.Status != StatusConfirmed {
		t.Errorf("status = %s, sweeper must not touch confirmed stays", got.Status)
	}
}

func TestCancel(t *testing.T) {
	svc, _, _ := newTestService(1)
	ctx := context.Background()

	r, err := svc.Create(ctx, testCreateRequest(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Pending reservations cannot be cancelled.
	if _, err := svc.Cancel(ctx, r.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("Cancel pending err = %v, want ErrNotCancellable", err)
	}

	if err := svc.ApprovePayment(ctx, r.ID, ""); err != nil {
		t.Fatalf("ApprovePayment: %v", err)
	}
	cancelled, err := svc.Cancel(ctx, r.ID)
	if err != nil {
		t.Fatalf("Cancel confirmed: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("cancelled = %+v, want status cancelled with timestamp", cancelled)
	}

	// Terminal stays terminal.
	if _, err := svc.Cancel(ctx, r.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("double Cancel err = %v, want ErrNotCancellable", err)
	}
}

func TestCheckAvailabilityExclude(t *testing.T) {
	svc, _, _ := newTestService(2)
	ctx := context.Background()

	r, err := svc.Create(ctx, testCreateRequest(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	avail, err := svc.CheckAvailability(ctx, "acc_test", r.Range, "")
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if avail.FreeUnits != 1 {
		t.Errorf("FreeUnits = %d, want 1", avail.FreeUnits)
	}

	// Excluding the reservation itself models a date-change check.
	avail, err = svc.CheckAvailability(ctx, "acc_test", r.Range, r.ID)
	if err != nil {
		t.Fatalf("CheckAvailability exclude: %v", err)
	}
	if avail.FreeUnits != 2 {
		t.Errorf("FreeUnits excluding self = %d, want 2", avail.FreeUnits)
	}
}

func TestSiteGateRefusal(t *testing.T) {
	store := NewMemoryStore()
	dir := &mockDirectory{types: map[string]*TypeInfo{
		"acc_test": {
			ID: "acc_test", SiteID: "site_test", CapacityUnits: 1,
			MinGuests: 1, MaxGuests: 4,
			NightlyRate: money.MustNew(10000, "EUR"), Active: true,
		},
	}}
	gate := &mockGate{accepting: false, reason: "subscription suspended"}
	svc := NewService(store, dir, gate, &mockCharger{}, testLogger())

	_, err := svc.Create(context.Background(), testCreateRequest(t))
	var violation *RuleViolation
	if !errors.As(err, &violation) || violation.Rule != "site_accepting" {
		t.Fatalf("err = %v, want site_accepting violation", err)
	}
	if violation.Message != "subscription suspended" {
		t.Errorf("message = %q, want the gate reason", violation.Message)
	}
}

func TestListBySitePage(t *testing.T) {
	svc, store, _ := newTestService(100)
	ctx := context.Background()

	base := time.Now().UTC().AddDate(0, 2, 0)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		start := base.AddDate(0, 0, i*10)
		dr, err := NewDateRange(start, start.AddDate(0, 0, 2))
		if err != nil {
			t.Fatalf("NewDateRange: %v", err)
		}
		r := &Reservation{
			ID:                  fmt.Sprintf("res_%02d", i),
			SiteID:              "site_test",
			AccommodationTypeID: "acc_test",
			Range:               dr,
			Guests:              2,
			Guest:               GuestInfo{FullName: "Ada Guest", Email: "ada@example.com"},
			TotalPrice:          money.MustNew(20000, "EUR"),
			Status:              StatusPending,
			ExpiresAt:           time.Now().Add(10 * time.Minute),
			CreatedAt:           created.Add(time.Duration(i) * time.Minute),
			UpdatedAt:           created.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateIfAvailable(ctx, r, 100); err != nil {
			t.Fatalf("seed reservation %d: %v", i, err)
		}
	}

	page, next, err := svc.ListBySitePage(ctx, "site_test", "", 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "res_04" || page[1].ID != "res_03" {
		t.Fatalf("first page = %v, want [res_04 res_03]", ids(page))
	}
	if next == "" {
		t.Fatal("expected a next cursor after the first page")
	}

	page, next, err = svc.ListBySitePage(ctx, "site_test", next, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "res_02" || page[1].ID != "res_01" {
		t.Fatalf("second page = %v, want [res_02 res_01]", ids(page))
	}

	page, next, err = svc.ListBySitePage(ctx, "site_test", next, 2)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "res_00" {
		t.Fatalf("last page = %v, want [res_00]", ids(page))
	}
	if next != "" {
		t.Errorf("cursor after last page = %q, want empty", next)
	}

	if _, _, err := svc.ListBySitePage(ctx, "site_test", "not-a-cursor", 2); !errors.Is(err, ErrBadCursor) {
		t.Errorf("bad cursor err = %v, want ErrBadCursor", err)
	}
}

func ids(rs []*Reservation) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
