package subscription

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

// mockCharger returns a scripted sequence of outcomes.
type mockCharger struct {
	mu       sync.Mutex
	outcomes []error // nil = success, ErrChargeDeclined = decline, other = transient
	calls    int
}

func (m *mockCharger) ChargeSubscription(_ context.Context, sub *Subscription, _ money.Money) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.calls < len(m.outcomes) {
		err = m.outcomes[m.calls]
	}
	m.calls++
	if err != nil {
		return "", err
	}
	return "pi_" + sub.ID + "_" + itoa(m.calls), nil
}

func (m *mockCharger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// mockMirror records site-side status changes.
type mockMirror struct {
	mu        sync.Mutex
	active    []string
	suspended []string
	cancelled []string
}

func (m *mockMirror) MarkActive(_ context.Context, siteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append(m.active, siteID)
	return nil
}

func (m *mockMirror) MarkSuspended(_ context.Context, siteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = append(m.suspended, siteID)
	return nil
}

func (m *mockMirror) MarkCancelled(_ context.Context, siteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, siteID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(charger *mockCharger) (*Service, *MemoryStore, *mockMirror) {
	store := NewMemoryStore()
	mirror := &mockMirror{}
	svc := NewService(store, charger, mirror, testLogger())
	return svc, store, mirror
}

func startTrial(t *testing.T, svc *Service, siteID string) *Subscription {
	t.Helper()
	if err := svc.StartTrial(context.Background(), siteID, ""); err != nil {
		t.Fatalf("StartTrial: %v", err)
	}
	sub, err := svc.GetBySite(context.Background(), siteID)
	if err != nil {
		t.Fatalf("GetBySite: %v", err)
	}
	return sub
}

func TestStartTrial(t *testing.T) {
	svc, _, _ := newTestService(&mockCharger{})
	sub := startTrial(t, svc, "site_1")

	if sub.Status != StatusTrial {
		t.Errorf("status = %s, want trial", sub.Status)
	}
	if sub.Plan != PlanStarter {
		t.Errorf("plan = %s, want starter default", sub.Plan)
	}
	wantEnd := time.Now().AddDate(0, 0, DefaultTrialDays)
	if diff := sub.TrialEnd.Sub(wantEnd); diff < -time.Minute || diff > time.Minute {
		t.Errorf("trialEnd = %v, want ~%v", sub.TrialEnd, wantEnd)
	}
}

func TestStartTrialDuplicateSite(t *testing.T) {
	svc, _, _ := newTestService(&mockCharger{})
	startTrial(t, svc, "site_1")
	if err := svc.StartTrial(context.Background(), "site_1", "growth"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestStartTrialUnknownPlan(t *testing.T) {
	svc, _, _ := newTestService(&mockCharger{})
	if err := svc.StartTrial(context.Background(), "site_1", "platinum"); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("err = %v, want ErrUnknownPlan", err)
	}
}

func TestTrialConversionChargesAndActivates(t *testing.T) {
	charger := &mockCharger{}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")

	// Move the trial end into the past.
	sub.TrialEnd = time.Now().Add(-time.Hour)
	if err := store.Update(context.Background(), sub); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if n := svc.ConvertDueTrials(context.Background(), 100); n != 1 {
		t.Fatalf("ConvertDueTrials = %d, want 1", n)
	}
	if charger.count() != 1 {
		t.Errorf("charge attempts = %d, want 1", charger.count())
	}

	got, _ := svc.GetBySite(context.Background(), "site_1")
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.PeriodEnd.Before(time.Now().AddDate(0, 0, 27)) {
		t.Errorf("periodEnd = %v, want about a month out", got.PeriodEnd)
	}
	if got.LastPaymentID == "" {
		t.Error("expected LastPaymentID recorded after successful charge")
	}
}

func TestTrialConversionDeclineOpensGrace(t *testing.T) {
	charger := &mockCharger{outcomes: []error{ErrChargeDeclined}}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")
	sub.TrialEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), sub)

	svc.ConvertDueTrials(context.Background(), 100)

	got, _ := svc.GetBySite(context.Background(), "site_1")
	if got.Status != StatusPaymentFailed {
		t.Fatalf("status = %s, want payment_failed", got.Status)
	}
	if got.GraceDeadline == nil {
		t.Fatal("expected grace deadline set")
	}
	wantGrace := time.Now().AddDate(0, 0, DefaultGraceDays)
	if diff := got.GraceDeadline.Sub(wantGrace); diff < -time.Minute || diff > time.Minute {
		t.Errorf("graceDeadline = %v, want ~%v", got.GraceDeadline, wantGrace)
	}
	if got.NextRetryAt == nil {
		t.Fatal("expected first retry scheduled")
	}
	if got.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0 before first retry", got.RetryCount)
	}
}

func TestRenewalFailureThenRecovery(t *testing.T) {
	charger := &mockCharger{outcomes: []error{ErrChargeDeclined, nil}}
	svc, store, mirror := newTestService(charger)
	sub := startTrial(t, svc, "site_1")

	sub.Status = StatusActive
	sub.PeriodStart = time.Now().AddDate(0, -1, 0)
	sub.PeriodEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), sub)

	if n := svc.RenewDue(context.Background(), 100); n != 1 {
		t.Fatalf("RenewDue = %d, want 1", n)
	}
	failed, _ := svc.GetBySite(context.Background(), "site_1")
	if failed.Status != StatusPaymentFailed {
		t.Fatalf("status = %s, want payment_failed", failed.Status)
	}

	// Make the scheduled retry due now.
	past := time.Now().Add(-time.Minute)
	failed.NextRetryAt = &past
	store.Update(context.Background(), failed)

	if n := svc.RetryDue(context.Background(), 100); n != 1 {
		t.Fatalf("RetryDue = %d, want 1", n)
	}
	recovered, _ := svc.GetBySite(context.Background(), "site_1")
	if recovered.Status != StatusActive {
		t.Fatalf("status = %s, want active after recovery", recovered.Status)
	}
	if recovered.PaymentFailedAt != nil || recovered.GraceDeadline != nil || recovered.NextRetryAt != nil {
		t.Error("expected failure fields cleared on recovery")
	}
	if recovered.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0 after recovery", recovered.RetryCount)
	}
	if len(mirror.active) != 1 || mirror.active[0] != "site_1" {
		t.Errorf("mirror.active = %v, want [site_1]", mirror.active)
	}
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	charger := &mockCharger{outcomes: []error{
		ErrChargeDeclined, ErrChargeDeclined, ErrChargeDeclined,
		ErrChargeDeclined, ErrChargeDeclined, ErrChargeDeclined,
	}}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")

	sub.Status = StatusActive
	sub.PeriodEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), sub)
	svc.RenewDue(context.Background(), 100)

	var prevDelay time.Duration
	for i := 1; i <= DefaultRetryMaxCount; i++ {
		cur, _ := svc.GetBySite(context.Background(), "site_1")
		if cur.NextRetryAt == nil {
			t.Fatalf("attempt %d: no retry scheduled", i)
		}
		past := time.Now().Add(-time.Second)
		cur.NextRetryAt = &past
		store.Update(context.Background(), cur)

		before := time.Now()
		svc.RetryDue(context.Background(), 100)

		after, _ := svc.GetBySite(context.Background(), "site_1")
		if after.RetryCount != i {
			t.Fatalf("attempt %d: retryCount = %d", i, after.RetryCount)
		}
		if i < DefaultRetryMaxCount {
			if after.NextRetryAt == nil {
				t.Fatalf("attempt %d: expected next retry scheduled", i)
			}
			delay := after.NextRetryAt.Sub(before)
			if delay <= prevDelay {
				t.Errorf("attempt %d: delay %v not greater than previous %v", i, delay, prevDelay)
			}
			prevDelay = delay
		} else if after.NextRetryAt != nil {
			t.Errorf("expected no retry scheduled once cap reached, got %v", after.NextRetryAt)
		}
	}

	// Cap alone never suspends.
	capped, _ := svc.GetBySite(context.Background(), "site_1")
	if capped.Status != StatusPaymentFailed {
		t.Errorf("status = %s, want payment_failed while grace is open", capped.Status)
	}

	// No more attempts fire.
	calls := charger.count()
	svc.RetryDue(context.Background(), 100)
	if charger.count() != calls {
		t.Error("retry fired past the attempt cap")
	}
}

func TestSuspendOnlyAfterGraceDeadline(t *testing.T) {
	charger := &mockCharger{outcomes: []error{ErrChargeDeclined}}
	svc, store, mirror := newTestService(charger)
	sub := startTrial(t, svc, "site_1")
	sub.Status = StatusActive
	sub.PeriodEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), sub)
	svc.RenewDue(context.Background(), 100)

	// Within grace: nothing suspends.
	if n := svc.SuspendGraceExpired(context.Background(), 100); n != 0 {
		t.Fatalf("SuspendGraceExpired inside grace = %d, want 0", n)
	}

	failed, _ := svc.GetBySite(context.Background(), "site_1")
	past := time.Now().Add(-time.Minute)
	failed.GraceDeadline = &past
	store.Update(context.Background(), failed)

	if n := svc.SuspendGraceExpired(context.Background(), 100); n != 1 {
		t.Fatalf("SuspendGraceExpired = %d, want 1", n)
	}
	got, _ := svc.GetBySite(context.Background(), "site_1")
	if got.Status != StatusSuspended {
		t.Errorf("status = %s, want suspended", got.Status)
	}
	if len(mirror.suspended) != 1 {
		t.Errorf("mirror.suspended = %v, want one entry", mirror.suspended)
	}
}

func TestTransientErrorLeavesStateUntouched(t *testing.T) {
	charger := &mockCharger{outcomes: []error{errors.New("provider timeout")}}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")
	sub.Status = StatusActive
	sub.PeriodEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), sub)

	svc.RenewDue(context.Background(), 100)

	got, _ := svc.GetBySite(context.Background(), "site_1")
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active after transient error", got.Status)
	}
	if got.PaymentFailedAt != nil {
		t.Error("transient error must not open the failure window")
	}
}

func TestApplyChargeOutcomeFailureOnTrialIgnored(t *testing.T) {
	// A failure outcome can only reference a charge, and trials are
	// never charged; a stray one must not open the dunning window.
	svc, _, _ := newTestService(&mockCharger{})
	sub := startTrial(t, svc, "site_1")

	if err := svc.ApplyChargeOutcome(context.Background(), sub.ID, "pi_stray", false); err != nil {
		t.Fatalf("ApplyChargeOutcome: %v", err)
	}
	got, _ := svc.Get(context.Background(), sub.ID)
	if got.Status != StatusTrial {
		t.Errorf("status = %s, want trial untouched", got.Status)
	}
	if got.PaymentFailedAt != nil || got.GraceDeadline != nil || got.NextRetryAt != nil {
		t.Error("stray failure must not set dunning fields on a trial")
	}
}

func TestApplyChargeOutcomeIdempotent(t *testing.T) {
	svc, store, _ := newTestService(&mockCharger{})
	sub := startTrial(t, svc, "site_1")
	sub.Status = StatusActive
	sub.PeriodStart = time.Now()
	sub.PeriodEnd = time.Now().AddDate(0, 1, 0)
	store.Update(context.Background(), sub)

	if err := svc.ApplyChargeOutcome(context.Background(), sub.ID, "pi_abc", true); err != nil {
		t.Fatalf("ApplyChargeOutcome: %v", err)
	}
	first, _ := svc.Get(context.Background(), sub.ID)

	// Same payment id again: no-op.
	if err := svc.ApplyChargeOutcome(context.Background(), sub.ID, "pi_abc", true); err != nil {
		t.Fatalf("ApplyChargeOutcome repeat: %v", err)
	}
	second, _ := svc.Get(context.Background(), sub.ID)
	if !second.PeriodEnd.Equal(first.PeriodEnd) {
		t.Errorf("periodEnd moved on duplicate outcome: %v vs %v", second.PeriodEnd, first.PeriodEnd)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("duplicate outcome must not touch the record")
	}
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	for _, status := range []Status{StatusTrial, StatusActive, StatusPaymentFailed, StatusSuspended} {
		t.Run(string(status), func(t *testing.T) {
			svc, store, mirror := newTestService(&mockCharger{})
			sub := startTrial(t, svc, "site_1")
			sub.Status = status
			store.Update(context.Background(), sub)

			got, err := svc.Cancel(context.Background(), "site_1")
			if err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			if got.Status != StatusCancelled {
				t.Errorf("status = %s, want cancelled", got.Status)
			}
			if got.CancelledAt == nil {
				t.Error("expected CancelledAt set")
			}
			if len(mirror.cancelled) != 1 {
				t.Errorf("mirror.cancelled = %v, want one entry", mirror.cancelled)
			}
		})
	}
}

func TestCancelTwice(t *testing.T) {
	svc, _, _ := newTestService(&mockCharger{})
	startTrial(t, svc, "site_1")
	if _, err := svc.Cancel(context.Background(), "site_1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), "site_1"); !errors.Is(err, ErrTerminal) {
		t.Errorf("err = %v, want ErrTerminal", err)
	}
}

func TestCancelledNeverBilled(t *testing.T) {
	charger := &mockCharger{}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")
	svc.Cancel(context.Background(), "site_1")

	// Even with every due field in the past, the driver skips it.
	cancelled, _ := svc.Get(context.Background(), sub.ID)
	cancelled.TrialEnd = time.Now().Add(-time.Hour)
	cancelled.PeriodEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), cancelled)

	svc.ConvertDueTrials(context.Background(), 100)
	svc.RenewDue(context.Background(), 100)
	svc.RetryDue(context.Background(), 100)
	if charger.count() != 0 {
		t.Errorf("charge attempts = %d, want 0 for cancelled subscription", charger.count())
	}
}

func TestManualRetry(t *testing.T) {
	charger := &mockCharger{outcomes: []error{ErrChargeDeclined, nil}}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")
	sub.Status = StatusActive
	sub.PeriodEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), sub)
	svc.RenewDue(context.Background(), 100)

	got, err := svc.ManualRetry(context.Background(), "site_1")
	if err != nil {
		t.Fatalf("ManualRetry: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active after manual recovery", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retryCount = %d, want reset after recovery", got.RetryCount)
	}
}

func TestManualRetryRequiresPaymentFailed(t *testing.T) {
	svc, _, _ := newTestService(&mockCharger{})
	startTrial(t, svc, "site_1")
	if _, err := svc.ManualRetry(context.Background(), "site_1"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("err = %v, want ErrNotRetryable", err)
	}
}

func TestUsableStates(t *testing.T) {
	svc, store, _ := newTestService(&mockCharger{})
	sub := startTrial(t, svc, "site_1")

	cases := []struct {
		status Status
		grace  *time.Time
		want   bool
	}{
		{StatusTrial, nil, true},
		{StatusActive, nil, true},
		{StatusPaymentFailed, timeIn(time.Hour), true},
		{StatusPaymentFailed, timeIn(-time.Hour), false},
		{StatusSuspended, nil, false},
		{StatusCancelled, nil, false},
	}
	for _, tc := range cases {
		sub.Status = tc.status
		sub.GraceDeadline = tc.grace
		store.Update(context.Background(), sub)
		ok, _, err := svc.Usable(context.Background(), "site_1")
		if err != nil {
			t.Fatalf("Usable(%s): %v", tc.status, err)
		}
		if ok != tc.want {
			t.Errorf("Usable(%s, grace=%v) = %v, want %v", tc.status, tc.grace, ok, tc.want)
		}
	}
}

func timeIn(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}
