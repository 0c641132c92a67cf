package domain

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// SubscriptionStatus is the lifecycle state of a company's plan subscription.
type SubscriptionStatus string

// Subscription status values.
// The billing authority is only known to report pending, active and expired.
const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// IsValid reports whether s is one of the known subscription statuses.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive,
		SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether s ends the subscription.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

// Subscription is one company's enrollment in a plan.
type Subscription struct {
	ID        string
	CompanyID int64
	PlanID    string

	// PlatformSubscriptionID is the charge id issued by the billing authority.
	// Empty for free subscriptions.
	PlatformSubscriptionID string

	Status      SubscriptionStatus
	ActivatedOn *time.Time
	CancelledOn *time.Time

	// IdempotencyKey is the caller-supplied key used to create the record, if any.
	IdempotencyKey string

	// Meta is free-form auxiliary data. The reconciler stores the authority
	// confirm URL under MetaConfirmURL and otherwise leaves it alone.
	Meta map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetaConfirmURL is the Meta key holding the authority confirmation URL of a pending charge.
const MetaConfirmURL = "confirm_url"

// IsFree reports whether the subscription was created without an authority charge.
func (s *Subscription) IsFree() bool {
	return s.PlatformSubscriptionID == ""
}

// ConfirmURL returns the stored authority confirmation URL, or nil.
func (s *Subscription) ConfirmURL() *string {
	if s.Meta == nil {
		return nil
	}
	if u, ok := s.Meta[MetaConfirmURL].(string); ok && u != "" {
		return &u
	}
	return nil
}

// CreateSubscriptionParams contains the fields for a new pending subscription.
type CreateSubscriptionParams struct {
	CompanyID              int64
	PlanID                 string
	PlatformSubscriptionID string
	IdempotencyKey         string
	Meta                   map[string]any
}

// CreateFreeSubscriptionParams contains the fields for a new free (immediately active) subscription.
type CreateFreeSubscriptionParams struct {
	CompanyID      int64
	PlanID         string
	IdempotencyKey string
	Meta           map[string]any
}

// SubscriptionStore persists subscription records.
//
// Lookups return (nil, nil) when no record matches. Mutations of a missing
// record return an ENOTFOUND error.
type SubscriptionStore interface {
	// GetActiveSubscription returns the company's active subscription, if any.
	GetActiveSubscription(ctx context.Context, companyID int64) (*Subscription, error)

	// GetSubscriptionByID returns a subscription by its store id.
	GetSubscriptionByID(ctx context.Context, id string) (*Subscription, error)

	// GetSubscriptionByPlatformID returns the company's subscription for an authority charge id.
	GetSubscriptionByPlatformID(ctx context.Context, platformSubscriptionID string, companyID int64) (*Subscription, error)

	// GetSubscriptionByIdempotencyKey returns the company's subscription created with key.
	GetSubscriptionByIdempotencyKey(ctx context.Context, companyID int64, key string) (*Subscription, error)

	// ListSubscriptions returns every subscription of a company, newest first.
	ListSubscriptions(ctx context.Context, companyID int64) ([]Subscription, error)

	// CreateSubscription stores a new record in pending status.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// CreateFreeSubscription stores a new record in active status with no platform id.
	CreateFreeSubscription(ctx context.Context, params CreateFreeSubscriptionParams) (*Subscription, error)

	// ActivateSubscription sets status active, activated_on now and the platform id.
	ActivateSubscription(ctx context.Context, id string, platformSubscriptionID string) (*Subscription, error)

	// CancelSubscription sets a terminal status and cancelled_on now.
	// An empty status means cancelled; only cancelled and expired are accepted.
	CancelSubscription(ctx context.Context, id string, status SubscriptionStatus) (*Subscription, error)

	// RemoveSubscription deletes a record and returns it as it was.
	RemoveSubscription(ctx context.Context, id string) (*Subscription, error)
}

// CancelStatus normalizes the status passed to SubscriptionStore.CancelSubscription.
func CancelStatus(op string, status SubscriptionStatus) (SubscriptionStatus, error) {
	switch status {
	case "":
		return SubscriptionStatusCancelled, nil
	case SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return status, nil
	}
	return "", Errorf(EINVALID, op, "cannot cancel subscription with status %q", status)
}

// ParseCompanyID coerces a company identifier to its integer form.
func ParseCompanyID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, Errorf(EINVALID, "company.parse", "invalid company id: %q", raw)
	}
	return id, nil
}
