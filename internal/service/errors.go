package service

import (
	"github.com/dukerupert/plansync/internal/domain"
)

// Plan errors - use domain.ENOTFOUND
var (
	ErrPlanNotFound = domain.Errorf(domain.ENOTFOUND, "", "Plan not found")
)

// Validation errors - use domain.EINVALID
var (
	ErrMissingPlanID      = domain.Errorf(domain.EINVALID, "", "Plan ID is required")
	ErrMissingCallbackURL = domain.Errorf(domain.EINVALID, "", "Callback URL is required for paid plans")
	ErrAuthorityRequired  = domain.Errorf(domain.EINVALID, "", "Billing authority is required")
	ErrMissingExtensionID = domain.Errorf(domain.EINVALID, "", "Extension ID is required")
)

// Subscription state errors
var (
	ErrActiveSubscriptionExists = domain.Errorf(domain.ECONFLICT, "", "Company already has an active subscription")
	ErrIntegrityViolation       = domain.Errorf(domain.EINTERNAL, "", "Billing authority has no record of active subscription")
)

// Confirmation outcome messages returned in SubscriptionUpdate.Message.
const (
	MsgFreeSubscription      = "Cannot update free subscription"
	MsgSubscriptionActivated = "Subscription activated"
	MsgSubscriptionDeclined  = "Subscription request is declined by user"
	MsgSubscriptionEnded     = "Subscription is no longer active"
)

func msgNotFound(platformSubscriptionID string) string {
	return "Subscription not found with id " + platformSubscriptionID
}

func msgNotFoundOnAuthority(platformSubscriptionID string) string {
	return "Subscription not found on billing authority with id " + platformSubscriptionID
}
