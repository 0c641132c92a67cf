package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrChargeNotFound is returned when the authority has no record of a charge id.
	ErrChargeNotFound = errors.New("billing: subscription charge not found")

	// ErrInvalidAPIKey is returned when the authority credentials are missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrMissingExtensionID is returned when a request has no extension id.
	ErrMissingExtensionID = errors.New("billing: extension id is required")

	// ErrNoLineItems is returned when a charge request has nothing to bill.
	ErrNoLineItems = errors.New("billing: charge requires at least one line item")

	// ErrAmountTooSmall is returned when a line item is below the authority minimum of 1.
	ErrAmountTooSmall = errors.New("billing: amount too small (minimum 1)")
)

// IsTemporary reports whether err is likely transient. Errors that do not
// classify themselves, such as transport failures, count as transient.
func IsTemporary(err error) bool {
	var t interface{ IsTemporary() bool }
	if errors.As(err, &t) {
		return t.IsTemporary()
	}
	return true
}

// APIError is a non-success response from the platform billing API.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // message from the response body, if any
	RequestID  string // x-request-id header, for support tickets
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("billing api: %s (status: %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("billing api: unexpected status %d", e.StatusCode)
}

// IsTemporary returns true if the error is likely transient.
func (e *APIError) IsTemporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "resource_missing")
	HTTPStatus    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Code == "api_connection_error" || e.HTTPStatus >= 500
}
