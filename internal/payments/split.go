package payments

import (
	"fmt"

	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/money"
)

// DefaultCommissionBPS is the platform commission in basis points.
const DefaultCommissionBPS = 500

// BuildChargeRequest routes one reservation payment: the platform
// commission comes off the top as the application fee and the remainder
// settles with the site's collector account. A site with no collector
// must never reach charge creation.
func BuildChargeRequest(r *booking.Reservation, collectorID string, commissionBPS int64) (*ChargeRequest, error) {
	if collectorID == "" {
		return nil, fmt.Errorf("%w: site %s", ErrNoCollector, r.SiteID)
	}
	if commissionBPS < 0 || commissionBPS > 10000 {
		return nil, fmt.Errorf("payments: commission %d bps out of range", commissionBPS)
	}

	fee, siteAmount := r.TotalPrice.SplitBps(commissionBPS)
	if _, err := fee.Add(siteAmount); err != nil {
		return nil, fmt.Errorf("payments: split currencies diverged: %w", err)
	}

	return &ChargeRequest{
		ExternalRef:    r.ID,
		Description:    fmt.Sprintf("Reservation %s, %s", r.ID, r.Range.String()),
		Amount:         r.TotalPrice,
		ApplicationFee: fee,
		CollectorID:    collectorID,
		GuestEmail:     r.Guest.Email,
	}, nil
}

// SplitFor reports how a total divides at the given commission rate.
// Used by the dashboard revenue summary.
func SplitFor(total money.Money, commissionBPS int64) (fee, site money.Money) {
	return total.SplitBps(commissionBPS)
}
