package booking

import (
	"testing"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

func testTypeInfo() *TypeInfo {
	return &TypeInfo{
		ID:            "acc_test",
		SiteID:        "site_test",
		Name:          "Forest Cabin",
		CapacityUnits: 3,
		MinGuests:     1,
		MaxGuests:     4,
		NightlyRate:   money.MustNew(10000, "EUR"),
		Active:        true,
	}
}

func passingInput(t *testing.T) RuleInput {
	t.Helper()
	return RuleInput{
		Range:         mustRange(t, "2026-07-10", "2026-07-15"),
		Guests:        2,
		Type:          testTypeInfo(),
		SiteAccepting: true,
		FreeUnits:     1,
		Now:           time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		MaxStayNights: 30,
	}
}

func TestEvaluateAllPass(t *testing.T) {
	if v := Evaluate(passingInput(t), DefaultRules()...); v != nil {
		t.Fatalf("expected pass, got violation %v", v)
	}
}

func TestEvaluateReturnsFirstFailure(t *testing.T) {
	in := passingInput(t)
	in.Guests = 9      // violates guest_count
	in.FreeUnits = 0   // violates units_free too
	in.SiteAccepting = false

	v := Evaluate(in, DefaultRules()...)
	if v == nil {
		t.Fatal("expected violation")
	}
	if v.Rule != "guest_count" {
		t.Errorf("first failing rule = %s, want guest_count (evaluation order)", v.Rule)
	}
}

func TestValidStay(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		start, end string
		maxNights  int
		wantFail   bool
	}{
		{"future stay", "2026-07-10", "2026-07-15", 30, false},
		{"starts today", "2026-07-01", "2026-07-03", 30, false},
		{"in the past", "2026-06-20", "2026-06-25", 30, true},
		{"too long", "2026-07-10", "2026-09-10", 30, true},
		{"no cap", "2026-07-10", "2026-09-10", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := passingInput(t)
			in.Range = mustRange(t, tt.start, tt.end)
			in.Now = now
			in.MaxStayNights = tt.maxNights
			v := ValidStay(in)
			if (v != nil) != tt.wantFail {
				t.Errorf("ValidStay = %v, wantFail %v", v, tt.wantFail)
			}
		})
	}
}

func TestGuestCountBounds(t *testing.T) {
	in := passingInput(t)

	in.Guests = 0
	if v := GuestCount(in); v == nil {
		t.Error("expected violation below minimum")
	}
	in.Guests = 4
	if v := GuestCount(in); v != nil {
		t.Errorf("expected pass at maximum, got %v", v)
	}
	in.Guests = 5
	if v := GuestCount(in); v == nil {
		t.Error("expected violation above maximum")
	}
}

func TestSiteAcceptingRule(t *testing.T) {
	in := passingInput(t)
	in.SiteAccepting = false
	in.SiteReason = "subscription suspended"

	v := SiteAccepting(in)
	if v == nil {
		t.Fatal("expected violation for non-accepting site")
	}
	if v.Message != "subscription suspended" {
		t.Errorf("message = %q, want the site reason", v.Message)
	}

	in = passingInput(t)
	in.Type.Active = false
	if v := SiteAccepting(in); v == nil {
		t.Error("expected violation for inactive type")
	}
}

func TestUnitsFree(t *testing.T) {
	in := passingInput(t)
	in.FreeUnits = 0
	if v := UnitsFree(in); v == nil {
		t.Error("expected violation with zero free units")
	}
	in.FreeUnits = 1
	if v := UnitsFree(in); v != nil {
		t.Errorf("expected pass with one free unit, got %v", v)
	}
}
