// Package admin provides platform-operator endpoints for resolving stuck
// billing states and inspecting site standing.
package admin

import (
	"time"

	"github.com/innkeep/innkeep/internal/site"
	"github.com/innkeep/innkeep/internal/subscription"
)

// SiteStanding is one row of the operator site listing: the site profile
// joined with its subscription state.
type SiteStanding struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Slug               string     `json:"slug"`
	Status             string     `json:"status"`
	Plan               string     `json:"plan,omitempty"`
	SubscriptionStatus string     `json:"subscriptionStatus,omitempty"`
	GraceDeadline      *time.Time `json:"graceDeadline,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func standingFor(s *site.Site, sub *subscription.Subscription) SiteStanding {
	row := SiteStanding{
		ID:        s.ID,
		Name:      s.Name,
		Slug:      s.Slug,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
	}
	if sub != nil {
		row.Plan = string(sub.Plan)
		row.SubscriptionStatus = string(sub.Status)
		row.GraceDeadline = sub.GraceDeadline
	}
	return row
}
