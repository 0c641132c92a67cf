package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Authority is the external system of record for subscription charges.
// Implementations talk to the platform billing API or to Stripe.
//
// The authority decides whether a merchant approved and paid for a charge;
// local subscription records are reconciled against what it reports.
type Authority interface {
	// CreateSubscriptionCharge requests a new subscription charge.
	// The returned Charge carries the authority-issued id and the URL the
	// merchant must visit to approve it.
	CreateSubscriptionCharge(ctx context.Context, params CreateChargeParams) (*Charge, error)

	// GetSubscriptionCharge returns the current state of a charge.
	// Returns ErrChargeNotFound if the authority has no record of the id.
	GetSubscriptionCharge(ctx context.Context, params GetChargeParams) (*Charge, error)
}

// Charge statuses reported by the authority.
// Only pending, active and expired have been observed from the platform;
// the Stripe authority can additionally report cancelled.
const (
	ChargeStatusPending   = "pending"
	ChargeStatusActive    = "active"
	ChargeStatusExpired   = "expired"
	ChargeStatusCancelled = "cancelled"
)

// minimumLineItemAmount is the smallest amount the authority will bill.
var minimumLineItemAmount = decimal.NewFromInt(1)

// CreateChargeParams contains parameters for creating a subscription charge.
type CreateChargeParams struct {
	// ExtensionID identifies the calling extension to the authority.
	ExtensionID string

	// CompanyID is the merchant the charge is created for.
	CompanyID int64

	// Body is the charge description sent to the authority.
	Body ChargeRequest

	// IdempotencyKey prevents duplicate charges when a request is retried.
	// Optional.
	IdempotencyKey string
}

// ChargeRequest describes what the merchant is asked to approve.
type ChargeRequest struct {
	Name      string
	LineItems []LineItem

	// ReturnURL is where the authority redirects after approval or decline.
	ReturnURL string
}

// LineItem is a single billable entry in a charge.
type LineItem struct {
	Name string

	// Term is the short description shown next to the name (the plan tagline).
	Term string

	Price LineItemPrice

	// PricingType: "recurring" or "one_time"
	PricingType string

	// Interval: "month" or "year"
	Interval string
}

// LineItemPrice is an amount in major currency units.
type LineItemPrice struct {
	Amount       decimal.Decimal
	CurrencyCode string
}

// GetChargeParams contains parameters for retrieving a subscription charge.
type GetChargeParams struct {
	ExtensionID    string
	CompanyID      int64
	SubscriptionID string
}

// Charge is a subscription charge as seen by the authority.
type Charge struct {
	// ID is the authority-issued identifier (the platform subscription id).
	ID string

	// Status: pending, active, expired or cancelled.
	Status string

	// ConfirmURL is where the merchant approves the charge.
	// Only set on creation.
	ConfirmURL string
}

// Validate checks the request before it is sent to an authority.
func (p CreateChargeParams) Validate() error {
	if p.ExtensionID == "" {
		return ErrMissingExtensionID
	}
	if len(p.Body.LineItems) == 0 {
		return ErrNoLineItems
	}
	for _, li := range p.Body.LineItems {
		if li.Price.Amount.LessThan(minimumLineItemAmount) {
			return ErrAmountTooSmall
		}
	}
	return nil
}
