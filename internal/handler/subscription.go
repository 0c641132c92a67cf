package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/dukerupert/plansync/internal/billing"
	"github.com/dukerupert/plansync/internal/domain"
	"github.com/dukerupert/plansync/internal/middleware"
	"github.com/dukerupert/plansync/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader carries the subscribe idempotency key when the body has none.
const IdempotencyKeyHeader = "Idempotency-Key"

// SubscriptionHandler exposes the subscription service over JSON.
// Company routes must be wrapped with middleware.RequireCompany.
type SubscriptionHandler struct {
	service   service.SubscriptionService
	authority billing.Authority
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewSubscriptionHandler creates a subscription handler.
// authority may be nil, in which case paid plans cannot be subscribed to and
// active subscriptions are never verified.
func NewSubscriptionHandler(svc service.SubscriptionService, authority billing.Authority, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		service:   svc,
		authority: authority,
		validate:  newValidator(),
		logger:    logger,
	}
}

// subscribeRequest is the body of POST /subscription.
type subscribeRequest struct {
	PlanID         string `json:"plan_id" validate:"required,max=64"`
	CallbackURL    string `json:"callback_url" validate:"omitempty,url,max=2048"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=255"`
}

// ListPlans handles GET /api/v1/company/{company_id}/plans
func (h *SubscriptionHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())

	list, err := h.service.GetActivePlans(r.Context(), companyID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	plans := make([]planResponse, 0, len(list.Plans))
	for i := range list.Plans {
		plans = append(plans, toPlanResponse(&list.Plans[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

// Subscribe handles POST /api/v1/company/{company_id}/subscription
//
// Responds 201 with the platform subscription id and the URL the merchant
// must visit to approve the charge. Free plans respond with a null redirect_url.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())

	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	}
	if err := h.validate.Struct(req); err != nil {
		ValidationErrorResponse(w, r, validationError("subscription.subscribe", err))
		return
	}

	result, err := h.service.SubscribePlan(r.Context(), service.SubscribeParams{
		CompanyID:      companyID,
		PlanID:         req.PlanID,
		CallbackURL:    req.CallbackURL,
		IdempotencyKey: req.IdempotencyKey,
	}, h.authority)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, subscribeResponse{
		PlatformSubscriptionID: result.PlatformSubscriptionID,
		RedirectURL:            result.RedirectURL,
	})
}

// UpdateStatus handles GET /api/v1/company/{company_id}/subscription/status
//
// This is the return URL the billing authority sends the merchant to after
// approving or declining. Declines and unknown ids are reported in the body
// with 200, since the merchant's browser is the caller.
func (h *SubscriptionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	platformID := r.URL.Query().Get("platform_subscription_id")

	update, err := h.service.UpdateSubscriptionStatus(r.Context(), companyID, platformID, h.authority)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updateResponse{
		Success:      update.Success,
		Subscription: toSubscriptionResponse(update.Subscription),
		Message:      update.Message,
	})
}

// GetActive handles GET /api/v1/company/{company_id}/subscription/active
//
// With ?verify=true the record is cross-checked against the billing authority.
func (h *SubscriptionHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())

	var authority billing.Authority
	if r.URL.Query().Get("verify") == "true" {
		if h.authority == nil {
			h.logger.Warn("verify requested without a billing authority", "company_id", companyID)
		}
		authority = h.authority
	}

	sub, err := h.service.GetActiveSubscription(r.Context(), companyID, authority)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"subscription": toSubscriptionResponse(sub)})
}

// ListSubscriptions handles GET /api/v1/company/{company_id}/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())

	subs, err := h.service.ListSubscriptions(r.Context(), companyID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	out := make([]*subscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toSubscriptionResponse(&subs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

// =============================================================================
// Response types
// =============================================================================

type planResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Tagline     string          `json:"tagline,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PricingType string          `json:"pricing_type"`
	Interval    string          `json:"interval,omitempty"`
	Features    []string        `json:"features"`
	IsFree      bool            `json:"is_free"`
}

func toPlanResponse(p *domain.Plan) planResponse {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return planResponse{
		ID:          p.ID,
		Name:        p.Name,
		Tagline:     p.Tagline,
		Amount:      p.Price.Amount,
		Currency:    p.Price.Currency,
		PricingType: string(p.EffectivePricingType()),
		Interval:    string(p.Interval),
		Features:    features,
		IsFree:      !p.IsPaid(),
	}
}

type subscribeResponse struct {
	PlatformSubscriptionID string  `json:"platform_subscription_id"`
	RedirectURL            *string `json:"redirect_url"`
}

type updateResponse struct {
	Success      bool                  `json:"success"`
	Subscription *subscriptionResponse `json:"seller_subscription"`
	Message      string                `json:"message"`
}

type subscriptionResponse struct {
	ID                     string     `json:"id"`
	CompanyID              int64      `json:"company_id"`
	PlanID                 string     `json:"plan_id"`
	PlatformSubscriptionID string     `json:"platform_subscription_id,omitempty"`
	Status                 string     `json:"status"`
	ActivatedOn            *time.Time `json:"activated_on,omitempty"`
	CancelledOn            *time.Time `json:"cancelled_on,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

func toSubscriptionResponse(s *domain.Subscription) *subscriptionResponse {
	if s == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:                     s.ID,
		CompanyID:              s.CompanyID,
		PlanID:                 s.PlanID,
		PlatformSubscriptionID: s.PlatformSubscriptionID,
		Status:                 string(s.Status),
		ActivatedOn:            s.ActivatedOn,
		CancelledOn:            s.CancelledOn,
		CreatedAt:              s.CreatedAt,
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("http.decode", "Request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.Invalid("http.decode", "Request body too large")
		}
		return domain.Invalid("http.decode", "Request body is not valid JSON")
	}
	return nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts validator output into a domain.ValidationError.
func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Invalid(op, err.Error())
	}

	var out error
	for _, fe := range verrs {
		out = domain.AddFieldError(out, fe.Field(), fieldMessage(fe))
	}
	if ve, ok := out.(*domain.ValidationError); ok {
		ve.Op = op
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}
