package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func validChargeParams() CreateChargeParams {
	return CreateChargeParams{
		ExtensionID: "ext_123",
		CompanyID:   7,
		Body: ChargeRequest{
			Name: "Pro",
			LineItems: []LineItem{{
				Name:        "Pro",
				Term:        "Everything unlocked",
				Price:       LineItemPrice{Amount: decimal.RequireFromString("19.99"), CurrencyCode: "USD"},
				PricingType: "recurring",
				Interval:    "month",
			}},
			ReturnURL: "https://ext.example/callback",
		},
	}
}

func TestStripeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  StripeConfig
		wantErr bool
	}{
		{name: "valid test key", config: StripeConfig{APIKey: "sk_test_abc"}},
		{name: "missing key", config: StripeConfig{}, wantErr: true},
		{name: "negative retries", config: StripeConfig{APIKey: "sk_test_abc", MaxRetries: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.True(t, (&StripeConfig{APIKey: "sk_test_abc"}).IsTestMode())
	assert.False(t, (&StripeConfig{APIKey: "sk_live_abc"}).IsTestMode())

	d := (&StripeConfig{APIKey: "sk_test_abc"}).withDefaults()
	assert.Equal(t, 30, d.TimeoutSeconds)
	assert.Equal(t, 2, d.MaxRetries)
}

func TestBuildCheckoutParams(t *testing.T) {
	t.Run("recurring plan uses subscription mode", func(t *testing.T) {
		params := validChargeParams()
		params.IdempotencyKey = "idem_1"

		got, err := buildCheckoutParams(params)
		require.NoError(t, err)

		assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *got.Mode)
		require.Len(t, got.LineItems, 1)
		li := got.LineItems[0]
		assert.Equal(t, int64(1999), *li.PriceData.UnitAmount)
		assert.Equal(t, "usd", *li.PriceData.Currency)
		assert.Equal(t, "month", *li.PriceData.Recurring.Interval)
		assert.Equal(t, "Pro", *li.PriceData.ProductData.Name)
		assert.Equal(t, "Everything unlocked", *li.PriceData.ProductData.Description)
		assert.Equal(t, "7", *got.ClientReferenceID)
		assert.Equal(t, "https://ext.example/callback?platform_subscription_id={CHECKOUT_SESSION_ID}", *got.SuccessURL)
		assert.Equal(t, "ext_123", got.Metadata["extension_id"])
		assert.Equal(t, "7", got.Metadata["company_id"])
		require.NotNil(t, got.IdempotencyKey)
		assert.Equal(t, "idem_1", *got.IdempotencyKey)
	})

	t.Run("one time plan uses payment mode", func(t *testing.T) {
		params := validChargeParams()
		params.Body.LineItems[0].PricingType = "one_time"
		params.Body.LineItems[0].Term = ""

		got, err := buildCheckoutParams(params)
		require.NoError(t, err)

		assert.Equal(t, string(stripe.CheckoutSessionModePayment), *got.Mode)
		assert.Nil(t, got.LineItems[0].PriceData.Recurring)
		assert.Nil(t, got.LineItems[0].PriceData.ProductData.Description)
		assert.Nil(t, got.IdempotencyKey)
	})

	t.Run("rejects invalid params", func(t *testing.T) {
		params := validChargeParams()
		params.ExtensionID = ""
		_, err := buildCheckoutParams(params)
		assert.ErrorIs(t, err, ErrMissingExtensionID)

		params = validChargeParams()
		params.Body.LineItems[0].Price.Amount = decimal.RequireFromString("0.5")
		_, err = buildCheckoutParams(params)
		assert.ErrorIs(t, err, ErrAmountTooSmall)

		params = validChargeParams()
		params.Body.LineItems = nil
		_, err = buildCheckoutParams(params)
		assert.ErrorIs(t, err, ErrNoLineItems)
	})
}

func TestWithSessionPlaceholder(t *testing.T) {
	assert.Equal(t, "https://a/cb?platform_subscription_id={CHECKOUT_SESSION_ID}", withSessionPlaceholder("https://a/cb"))
	assert.Equal(t, "https://a/cb?x=1&platform_subscription_id={CHECKOUT_SESSION_ID}", withSessionPlaceholder("https://a/cb?x=1"))
}

func TestChargeStatusFromSession(t *testing.T) {
	tests := []struct {
		name    string
		session *stripe.CheckoutSession
		want    string
	}{
		{
			name:    "open session is pending",
			session: &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen},
			want:    ChargeStatusPending,
		},
		{
			name:    "expired session",
			session: &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired},
			want:    ChargeStatusExpired,
		},
		{
			name: "complete with active subscription",
			session: &stripe.CheckoutSession{
				Status:       stripe.CheckoutSessionStatusComplete,
				Subscription: &stripe.Subscription{Status: stripe.SubscriptionStatusActive},
			},
			want: ChargeStatusActive,
		},
		{
			name: "complete with trialing subscription",
			session: &stripe.CheckoutSession{
				Status:       stripe.CheckoutSessionStatusComplete,
				Subscription: &stripe.Subscription{Status: stripe.SubscriptionStatusTrialing},
			},
			want: ChargeStatusActive,
		},
		{
			name: "complete with canceled subscription",
			session: &stripe.CheckoutSession{
				Status:       stripe.CheckoutSessionStatusComplete,
				Subscription: &stripe.Subscription{Status: stripe.SubscriptionStatusCanceled},
			},
			want: ChargeStatusCancelled,
		},
		{
			name: "complete with unpaid subscription",
			session: &stripe.CheckoutSession{
				Status:       stripe.CheckoutSessionStatusComplete,
				Subscription: &stripe.Subscription{Status: stripe.SubscriptionStatusUnpaid},
			},
			want: ChargeStatusExpired,
		},
		{
			name: "complete payment without subscription",
			session: &stripe.CheckoutSession{
				Status:        stripe.CheckoutSessionStatusComplete,
				PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			},
			want: ChargeStatusActive,
		},
		{
			name: "complete but unpaid",
			session: &stripe.CheckoutSession{
				Status:        stripe.CheckoutSessionStatusComplete,
				PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
			},
			want: ChargeStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chargeStatusFromSession(tt.session))
		})
	}
}

func TestToStripeError(t *testing.T) {
	src := &stripe.Error{
		Msg:            "Too many requests",
		Code:           stripe.ErrorCodeRateLimit,
		HTTPStatusCode: 429,
		RequestID:      "req_123",
	}

	err := toStripeError(src)

	var se *StripeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "rate_limit", se.Code)
	assert.Equal(t, "req_123", se.RequestID)
	assert.True(t, se.IsTemporary())
	assert.Equal(t, "stripe: Too many requests (code: rate_limit)", se.Error())

	plain := toStripeError(errors.New("boom"))
	assert.EqualError(t, plain, "stripe: boom")
}
