package domain

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// PlanInterval is the billing period of a recurring plan.
type PlanInterval string

const (
	PlanIntervalMonth PlanInterval = "month"
	PlanIntervalYear  PlanInterval = "year"
)

// PricingType describes how a plan is charged.
type PricingType string

const (
	PricingTypeRecurring PricingType = "recurring"
	PricingTypeOneTime   PricingType = "one_time"
)

// Price is an amount in major currency units (e.g. 5.00 USD).
type Price struct {
	Amount   decimal.Decimal
	Currency string
}

// minimumChargeAmount is the smallest amount the billing authority accepts.
// Plans priced below it are free and never reach the authority.
var minimumChargeAmount = decimal.NewFromInt(1)

// Plan is a purchasable offering.
type Plan struct {
	ID          string
	Name        string
	Tagline     string
	Price       Price
	PricingType PricingType
	Interval    PlanInterval

	// CompanyIDs limits visibility to these companies. Empty means every company.
	CompanyIDs []int64

	Features []string
	IsActive bool
	Meta     map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPaid reports whether subscribing requires an authority charge.
func (p *Plan) IsPaid() bool {
	return p.Price.Amount.GreaterThanOrEqual(minimumChargeAmount)
}

// EffectivePricingType returns the plan's pricing type, defaulting to recurring.
func (p *Plan) EffectivePricingType() PricingType {
	if p.PricingType == "" {
		return PricingTypeRecurring
	}
	return p.PricingType
}

// VisibleTo reports whether companyID may see and use the plan.
func (p *Plan) VisibleTo(companyID int64) bool {
	return len(p.CompanyIDs) == 0 || slices.Contains(p.CompanyIDs, companyID)
}

// PlanCatalog is a read-only lookup of plan definitions.
type PlanCatalog interface {
	// GetPlanByID returns the plan or (nil, nil) when it does not exist.
	GetPlanByID(ctx context.Context, id string) (*Plan, error)

	// GetActivePlans returns the active plans visible to companyID.
	GetActivePlans(ctx context.Context, companyID int64) ([]Plan, error)
}
