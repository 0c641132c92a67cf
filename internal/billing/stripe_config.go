package billing

import (
	"errors"
	"strings"
)

// StripeConfig contains configuration for the Stripe authority.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// MaxRetries is the maximum number of retries for transient failures
	// Default: 2
	MaxRetries int

	// TimeoutSeconds is the HTTP timeout for Stripe API calls in seconds
	// Default: 30
	TimeoutSeconds int
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("stripe: max retries cannot be negative")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}

func (c *StripeConfig) withDefaults() StripeConfig {
	out := *c
	if out.TimeoutSeconds <= 0 {
		out.TimeoutSeconds = 30
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 2
	}
	return out
}
