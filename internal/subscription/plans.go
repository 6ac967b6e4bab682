package subscription

import "github.com/innkeep/innkeep/internal/money"

// PlanID identifies a pricing tier.
type PlanID string

const (
	PlanStarter PlanID = "starter"
	PlanGrowth  PlanID = "growth"
	PlanScale   PlanID = "scale"
)

// PlanConfig defines the price and catalogue ceilings of a tier.
type PlanConfig struct {
	Plan                  PlanID      `json:"plan"`
	MonthlyPrice          money.Money `json:"monthlyPrice"`
	MaxAccommodationTypes int         `json:"maxAccommodationTypes"` // 0 = unlimited
	MaxUnits              int         `json:"maxUnits"`              // 0 = unlimited
	Blurb                 string      `json:"blurb"`
}

// Plans is the hardcoded plan catalogue.
var Plans = map[PlanID]PlanConfig{
	PlanStarter: {
		Plan:                  PlanStarter,
		MonthlyPrice:          money.MustNew(2900, "EUR"),
		MaxAccommodationTypes: 3,
		MaxUnits:              15,
		Blurb:                 "Small sites: up to 3 accommodation types, 15 units.",
	},
	PlanGrowth: {
		Plan:                  PlanGrowth,
		MonthlyPrice:          money.MustNew(7900, "EUR"),
		MaxAccommodationTypes: 10,
		MaxUnits:              75,
		Blurb:                 "Growing sites: up to 10 accommodation types, 75 units.",
	},
	PlanScale: {
		Plan:                  PlanScale,
		MonthlyPrice:          money.MustNew(19900, "EUR"),
		MaxAccommodationTypes: 0,
		MaxUnits:              0,
		Blurb:                 "Large operations: no catalogue limits.",
	},
}

// DefaultPlan is used when registration names no tier.
const DefaultPlan = PlanStarter

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p PlanID) bool {
	_, ok := Plans[p]
	return ok
}
