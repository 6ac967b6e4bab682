package subscription

import (
	"context"
	"testing"
	"time"
)

func TestTimerTickConvertsDueTrials(t *testing.T) {
	charger := &mockCharger{}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")
	sub.TrialEnd = time.Now().Add(-time.Hour)
	store.Update(context.Background(), sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timer := NewTimer(svc, testLogger()).WithInterval(10 * time.Millisecond)
	go timer.Start(ctx)
	defer timer.Stop()

	waitFor(t, time.Second, func() bool {
		got, err := svc.GetBySite(context.Background(), "site_1")
		return err == nil && got.Status == StatusActive
	})
	if !timer.Running() {
		t.Error("expected timer to report running")
	}
}

func TestTimerSuspendsBeforeRetrying(t *testing.T) {
	// A subscription past grace with a due retry must be suspended, not
	// charged, within a single tick.
	charger := &mockCharger{}
	svc, store, _ := newTestService(charger)
	sub := startTrial(t, svc, "site_1")

	now := time.Now()
	past := now.Add(-time.Minute)
	sub.Status = StatusPaymentFailed
	sub.PaymentFailedAt = &past
	sub.GraceDeadline = &past
	sub.NextRetryAt = &past
	store.Update(context.Background(), sub)

	timer := NewTimer(svc, testLogger())
	timer.tick(context.Background())

	got, _ := svc.GetBySite(context.Background(), "site_1")
	if got.Status != StatusSuspended {
		t.Fatalf("status = %s, want suspended", got.Status)
	}
	if charger.count() != 0 {
		t.Errorf("charge attempts = %d, want 0 past grace", charger.count())
	}
}

func TestTimerDefaultCadence(t *testing.T) {
	timer := NewTimer(newTestServiceOnly(t), testLogger())
	if timer.interval != 6*time.Hour {
		t.Errorf("default interval = %v, want 6h", timer.interval)
	}
	if got := NewTimer(newTestServiceOnly(t), testLogger()).WithInterval(0); got.interval != 6*time.Hour {
		t.Errorf("zero override must keep the default, got %v", got.interval)
	}
}

func newTestServiceOnly(t *testing.T) *Service {
	t.Helper()
	svc, _, _ := newTestService(&mockCharger{})
	return svc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
