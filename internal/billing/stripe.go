package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
)

// StripeAuthority implements Authority on Stripe Checkout.
//
// A subscription charge is a Checkout Session: its id is the platform
// subscription id and its URL is the confirm URL. Session and subscription
// states are folded into the authority's pending/active/expired/cancelled vocabulary.
type StripeAuthority struct {
	config StripeConfig
}

// NewStripeAuthority configures the Stripe SDK and returns an Authority.
func NewStripeAuthority(cfg StripeConfig) (*StripeAuthority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	stripe.Key = cfg.APIKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		MaxNetworkRetries: stripe.Int64(int64(cfg.MaxRetries)),
	}))

	return &StripeAuthority{config: cfg}, nil
}

// CreateSubscriptionCharge creates a Checkout Session for the line items.
func (s *StripeAuthority) CreateSubscriptionCharge(ctx context.Context, params CreateChargeParams) (*Charge, error) {
	sessionParams, err := buildCheckoutParams(params)
	if err != nil {
		return nil, err
	}
	sessionParams.Context = ctx

	session, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, toStripeError(err)
	}

	return &Charge{
		ID:         session.ID,
		Status:     chargeStatusFromSession(session),
		ConfirmURL: session.URL,
	}, nil
}

// GetSubscriptionCharge retrieves a Checkout Session with its subscription expanded.
func (s *StripeAuthority) GetSubscriptionCharge(ctx context.Context, params GetChargeParams) (*Charge, error) {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	getParams.AddExpand("subscription")

	session, err := checkoutsession.Get(params.SubscriptionID, getParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) &&
			(stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound) {
			return nil, ErrChargeNotFound
		}
		return nil, toStripeError(err)
	}

	return &Charge{
		ID:     session.ID,
		Status: chargeStatusFromSession(session),
	}, nil
}

func buildCheckoutParams(params CreateChargeParams) (*stripe.CheckoutSessionParams, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	mode := stripe.CheckoutSessionModePayment
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(params.Body.LineItems))
	for _, li := range params.Body.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.Term != "" {
			product.Description = stripe.String(li.Term)
		}

		priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(strings.ToLower(li.Price.CurrencyCode)),
			UnitAmount:  stripe.Int64(li.Price.Amount.Shift(2).Round(0).IntPart()),
			ProductData: product,
		}
		if li.PricingType != "one_time" && li.Interval != "" {
			mode = stripe.CheckoutSessionModeSubscription
			priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(li.Interval),
			}
		}

		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: priceData,
			Quantity:  stripe.Int64(1),
		})
	}

	companyID := strconv.FormatInt(params.CompanyID, 10)
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(mode)),
		LineItems:         items,
		SuccessURL:        stripe.String(withSessionPlaceholder(params.Body.ReturnURL)),
		CancelURL:         stripe.String(withSessionPlaceholder(params.Body.ReturnURL)),
		ClientReferenceID: stripe.String(companyID),
	}
	sessionParams.AddMetadata("extension_id", params.ExtensionID)
	sessionParams.AddMetadata("company_id", companyID)
	sessionParams.AddMetadata("charge_name", params.Body.Name)
	if params.IdempotencyKey != "" {
		sessionParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	return sessionParams, nil
}

// withSessionPlaceholder appends the Checkout session id template so the
// callback receives the platform subscription id. The braces must stay
// unescaped for Stripe to substitute them.
func withSessionPlaceholder(returnURL string) string {
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "platform_subscription_id={CHECKOUT_SESSION_ID}"
}

func chargeStatusFromSession(session *stripe.CheckoutSession) string {
	switch session.Status {
	case stripe.CheckoutSessionStatusExpired:
		return ChargeStatusExpired
	case stripe.CheckoutSessionStatusComplete:
		// handled below
	default:
		return ChargeStatusPending
	}

	if session.Subscription != nil && session.Subscription.Status != "" {
		switch session.Subscription.Status {
		case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
			return ChargeStatusActive
		case stripe.SubscriptionStatusCanceled:
			return ChargeStatusCancelled
		case stripe.SubscriptionStatusIncompleteExpired, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPastDue:
			return ChargeStatusExpired
		default:
			return ChargeStatusPending
		}
	}

	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return ChargeStatusActive
	default:
		return ChargeStatusPending
	}
}

func toStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &StripeError{
			Message:       stripeErr.Msg,
			Code:          string(stripeErr.Code),
			HTTPStatus:    stripeErr.HTTPStatusCode,
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	return fmt.Errorf("stripe: %w", err)
}
