package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/payments"
)

type mockReservations struct {
	expired   []*booking.Reservation
	confirmed []*booking.Reservation
}

func (m *mockReservations) ListExpired(_ context.Context, _ time.Time, _ int) ([]*booking.Reservation, error) {
	return m.expired, nil
}

func (m *mockReservations) ListConfirmedSince(_ context.Context, _ time.Time, _ int) ([]*booking.Reservation, error) {
	return m.confirmed, nil
}

type mockRecoverer struct {
	recovered []string
	fail      map[string]error
}

func (m *mockRecoverer) Recover(_ context.Context, providerPaymentID string) error {
	if err := m.fail[providerPaymentID]; err != nil {
		return err
	}
	m.recovered = append(m.recovered, providerPaymentID)
	return nil
}

type mockRecords struct {
	// records by target id
	byTarget map[string][]*payments.PaymentRecord
}

func (m *mockRecords) ListByTarget(_ context.Context, _ payments.TargetKind, targetID string) ([]*payments.PaymentRecord, error) {
	return m.byTarget[targetID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func confirmedRes(id, siteID string) *booking.Reservation {
	now := time.Now()
	return &booking.Reservation{
		ID:          id,
		SiteID:      siteID,
		Status:      booking.StatusConfirmed,
		ConfirmedAt: &now,
	}
}

func TestRunAll_RecoversStalePendingWithPaymentRef(t *testing.T) {
	res := &mockReservations{
		expired: []*booking.Reservation{
			{ID: "res_1", SiteID: "site_1", Status: booking.StatusPending, PaymentRef: "pi_abc"},
			{ID: "res_2", SiteID: "site_1", Status: booking.StatusPending}, // no ref: sweeper's job
		},
	}
	rec := &mockRecoverer{}
	runner := NewRunner(res, rec, &mockRecords{}, testLogger())

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if report.StalePending != 1 {
		t.Errorf("expected 1 stale pending, got %d", report.StalePending)
	}
	if report.RecoveredPayments != 1 {
		t.Errorf("expected 1 recovered payment, got %d", report.RecoveredPayments)
	}
	if len(rec.recovered) != 1 || rec.recovered[0] != "pi_abc" {
		t.Errorf("expected recovery of pi_abc, got %v", rec.recovered)
	}
	if !report.Healthy {
		t.Error("report should be healthy when everything recovered and no drift")
	}
}

func TestRunAll_RecoveryFailureLeavesReportUnhealthy(t *testing.T) {
	res := &mockReservations{
		expired: []*booking.Reservation{
			{ID: "res_1", Status: booking.StatusPending, PaymentRef: "pi_down"},
		},
	}
	rec := &mockRecoverer{fail: map[string]error{"pi_down": errors.New("provider unavailable")}}
	runner := NewRunner(res, rec, &mockRecords{}, testLogger())

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if report.RecoveredPayments != 0 {
		t.Errorf("expected 0 recovered, got %d", report.RecoveredPayments)
	}
	if report.Healthy {
		t.Error("report should be unhealthy when recovery failed")
	}
}

func TestRunAll_ReportsConfirmedDrift(t *testing.T) {
	res := &mockReservations{
		confirmed: []*booking.Reservation{
			confirmedRes("res_ok", "site_1"),
			confirmedRes("res_drift", "site_2"),
		},
	}
	records := &mockRecords{byTarget: map[string][]*payments.PaymentRecord{
		"res_ok": {{TargetID: "res_ok", Status: payments.StatusApproved}},
		// res_drift has a rejected record only
		"res_drift": {{TargetID: "res_drift", Status: payments.StatusRejected}},
	}}
	runner := NewRunner(res, &mockRecoverer{}, records, testLogger())

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if len(report.Drift) != 1 {
		t.Fatalf("expected 1 drift entry, got %d", len(report.Drift))
	}
	if report.Drift[0].ReservationID != "res_drift" {
		t.Errorf("expected drift on res_drift, got %s", report.Drift[0].ReservationID)
	}
	if report.Healthy {
		t.Error("report should be unhealthy with drift")
	}
}

func TestRunAll_HealthyWhenNothingToDo(t *testing.T) {
	runner := NewRunner(&mockReservations{}, &mockRecoverer{}, &mockRecords{}, testLogger())

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if !report.Healthy {
		t.Error("empty run should be healthy")
	}
	if report.Timestamp.IsZero() {
		t.Error("expected timestamp on report")
	}
}

func TestLastReport(t *testing.T) {
	runner := NewRunner(&mockReservations{}, &mockRecoverer{}, &mockRecords{}, testLogger())

	if runner.LastReport() != nil {
		t.Error("expected nil before first run")
	}

	report, _ := runner.RunAll(context.Background())
	if got := runner.LastReport(); got != report {
		t.Error("LastReport should return the most recent run")
	}
}
