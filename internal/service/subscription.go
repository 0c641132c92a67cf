package service

import (
	"context"

	"github.com/dukerupert/plansync/internal/billing"
	"github.com/dukerupert/plansync/internal/domain"
)

// SubscriptionService reconciles company plan subscriptions with a billing authority.
//
// The authority is passed per call: it is the caller's live, company-scoped
// handle and the service holds no reference to it between calls.
type SubscriptionService interface {
	// SubscribePlan starts a subscription to a plan.
	// Paid plans create a pending record backed by an authority charge and
	// return the authority's confirm URL. Free plans create an active record
	// without contacting the authority and return a nil RedirectURL.
	SubscribePlan(ctx context.Context, params SubscribeParams, authority billing.Authority) (*SubscribeResult, error)

	// UpdateSubscriptionStatus reconciles the record for platformSubscriptionID
	// after the merchant approved or declined the charge.
	// Outcomes that are not failures of the service itself (unknown id,
	// declined charge) are reported in SubscriptionUpdate rather than as errors.
	UpdateSubscriptionStatus(ctx context.Context, companyID int64, platformSubscriptionID string, authority billing.Authority) (*SubscriptionUpdate, error)

	// GetActiveSubscription returns the company's active subscription, or nil.
	// With a non-nil authority, paid records are cross-checked and corrected
	// when the authority disagrees; a record the authority does not know is
	// reported as nil.
	GetActiveSubscription(ctx context.Context, companyID int64, authority billing.Authority) (*domain.Subscription, error)

	// GetActivePlans lists the plans the company may subscribe to.
	GetActivePlans(ctx context.Context, companyID int64) (*PlanList, error)

	// ListSubscriptions returns the company's subscription history, newest first.
	ListSubscriptions(ctx context.Context, companyID int64) ([]domain.Subscription, error)
}

// Config holds settings the service passes to the billing authority.
type Config struct {
	// ExtensionID identifies this application to the billing authority.
	ExtensionID string
}

// SubscribeParams contains parameters for SubscribePlan.
type SubscribeParams struct {
	CompanyID   int64
	PlanID      string
	CallbackURL string

	// IdempotencyKey makes retries safe: a repeated key returns the
	// original result without creating a second charge. Optional.
	IdempotencyKey string
}

// SubscribeResult is returned by SubscribePlan.
type SubscribeResult struct {
	// PlatformSubscriptionID is empty for free plans.
	PlatformSubscriptionID string

	// RedirectURL is where the merchant approves the charge. Nil means
	// the subscription is already active.
	RedirectURL *string
}

// SubscriptionUpdate is the outcome of UpdateSubscriptionStatus.
type SubscriptionUpdate struct {
	Success      bool
	Subscription *domain.Subscription
	Message      string
}

// PlanList wraps the plans visible to a company.
type PlanList struct {
	Plans []domain.Plan
}
