package booking

import (
	"fmt"
	"time"
)

// RuleInput carries everything a booking rule may inspect: the request,
// the resolved accommodation type, the site's standing, and the free-unit
// count computed under the per-type lock.
type RuleInput struct {
	Range         DateRange
	Guests        int
	Type          *TypeInfo
	SiteAccepting bool
	SiteReason    string // populated when SiteAccepting is false
	FreeUnits     int
	Now           time.Time
	MaxStayNights int
}

// RuleViolation reports the first rule that failed.
type RuleViolation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v *RuleViolation) Error() string {
	return fmt.Sprintf("booking rule %s: %s", v.Rule, v.Message)
}

// Rule is a pure predicate over a booking request. A nil return means pass.
type Rule func(in RuleInput) *RuleViolation

// Evaluate runs rules in order and returns the first violation, or nil
// when all pass.
func Evaluate(in RuleInput, rules ...Rule) *RuleViolation {
	for _, rule := range rules {
		if v := rule(in); v != nil {
			return v
		}
	}
	return nil
}

// DefaultRules is the rule set the booking path evaluates, in order.
// Ordering matters: cheap request-shape checks run before the
// availability check so violations report the most specific cause.
func DefaultRules() []Rule {
	return []Rule{ValidStay, GuestCount, SiteAccepting, UnitsFree}
}

// ValidStay checks the date range is sane: non-zero, not in the past,
// and not longer than the platform stay ceiling.
func ValidStay(in RuleInput) *RuleViolation {
	if in.Range.IsZero() || !in.Range.Start.Before(in.Range.End) {
		return &RuleViolation{Rule: "valid_stay", Message: "check-in must be before check-out"}
	}
	today := midnightUTC(in.Now)
	if in.Range.Start.Before(today) {
		return &RuleViolation{Rule: "valid_stay", Message: "check-in date is in the past"}
	}
	if in.MaxStayNights > 0 && in.Range.Nights() > in.MaxStayNights {
		return &RuleViolation{Rule: "valid_stay",
			Message: fmt.Sprintf("stay exceeds maximum of %d nights", in.MaxStayNights)}
	}
	return nil
}

// GuestCount checks the party size against the type's bounds.
func GuestCount(in RuleInput) *RuleViolation {
	if in.Guests < in.Type.MinGuests {
		return &RuleViolation{Rule: "guest_count",
			Message: fmt.Sprintf("at least %d guests required", in.Type.MinGuests)}
	}
	if in.Guests > in.Type.MaxGuests {
		return &RuleViolation{Rule: "guest_count",
			Message: fmt.Sprintf("no more than %d guests allowed", in.Type.MaxGuests)}
	}
	return nil
}

// SiteAccepting checks the site is able to take new bookings: the listing
// is active and the operator's subscription is in a usable state.
func SiteAccepting(in RuleInput) *RuleViolation {
	if !in.Type.Active {
		return &RuleViolation{Rule: "site_accepting", Message: "accommodation type is not bookable"}
	}
	if !in.SiteAccepting {
		msg := in.SiteReason
		if msg == "" {
			msg = "site is not accepting bookings"
		}
		return &RuleViolation{Rule: "site_accepting", Message: msg}
	}
	return nil
}

// UnitsFree checks the availability computation left at least one unit.
func UnitsFree(in RuleInput) *RuleViolation {
	if in.FreeUnits <= 0 {
		return &RuleViolation{Rule: "units_free", Message: "no units available for these dates"}
	}
	return nil
}
