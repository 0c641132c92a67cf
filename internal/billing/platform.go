package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PlatformConfig contains configuration for the platform billing API.
type PlatformConfig struct {
	// BaseURL is the platform API root, e.g. https://api.platform.example
	BaseURL string

	// APIToken is sent as a bearer token on every request.
	APIToken string

	// TimeoutSeconds is the HTTP timeout in seconds
	// Default: 15
	TimeoutSeconds int
}

// Validate checks that required configuration is present.
func (c *PlatformConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("billing: platform base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("billing: invalid platform base URL: %w", err)
	}
	if c.APIToken == "" {
		return ErrInvalidAPIKey
	}
	return nil
}

// PlatformAuthority implements Authority against the platform billing API.
type PlatformAuthority struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewPlatformAuthority creates a platform billing client.
// A nil httpClient gets a default client with the configured timeout.
func NewPlatformAuthority(cfg PlatformConfig, httpClient *http.Client) (*PlatformAuthority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		timeout := cfg.TimeoutSeconds
		if timeout <= 0 {
			timeout = 15
		}
		httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}
	return &PlatformAuthority{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		client:  httpClient,
	}, nil
}

type platformPrice struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currency_code"`
}

type platformRecurring struct {
	Interval string `json:"interval"`
}

type platformLineItem struct {
	Name        string             `json:"name"`
	Term        string             `json:"term"`
	Price       platformPrice      `json:"price"`
	PricingType string             `json:"pricing_type"`
	Recurring   *platformRecurring `json:"recurring,omitempty"`
}

type platformChargeRequest struct {
	Name      string             `json:"name"`
	LineItems []platformLineItem `json:"line_items"`
	ReturnURL string             `json:"return_url"`
}

type platformSubscription struct {
	ID     string `json:"_id"`
	Status string `json:"status"`
}

type platformCreateResponse struct {
	Subscription platformSubscription `json:"subscription"`
	ConfirmURL   string               `json:"confirm_url"`
}

type platformErrorBody struct {
	Message string `json:"message"`
}

// CreateSubscriptionCharge posts a charge request and returns the pending charge.
func (p *PlatformAuthority) CreateSubscriptionCharge(ctx context.Context, params CreateChargeParams) (*Charge, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	body := platformChargeRequest{
		Name:      params.Body.Name,
		ReturnURL: params.Body.ReturnURL,
	}
	for _, li := range params.Body.LineItems {
		item := platformLineItem{
			Name:        li.Name,
			Term:        li.Term,
			Price:       platformPrice{Amount: li.Price.Amount.InexactFloat64(), CurrencyCode: li.Price.CurrencyCode},
			PricingType: li.PricingType,
		}
		if li.Interval != "" {
			item.Recurring = &platformRecurring{Interval: li.Interval}
		}
		body.LineItems = append(body.LineItems, item)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("billing: encode charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.subscriptionURL(params.CompanyID, params.ExtensionID, ""), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("billing: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if params.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", params.IdempotencyKey)
	}

	var out platformCreateResponse
	if err := p.do(req, &out); err != nil {
		return nil, err
	}
	if out.Subscription.ID == "" {
		return nil, fmt.Errorf("billing: charge response missing subscription id")
	}

	return &Charge{
		ID:         out.Subscription.ID,
		Status:     out.Subscription.Status,
		ConfirmURL: out.ConfirmURL,
	}, nil
}

// GetSubscriptionCharge fetches a charge by its platform subscription id.
func (p *PlatformAuthority) GetSubscriptionCharge(ctx context.Context, params GetChargeParams) (*Charge, error) {
	if params.ExtensionID == "" {
		return nil, ErrMissingExtensionID
	}
	if params.SubscriptionID == "" {
		return nil, ErrChargeNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.subscriptionURL(params.CompanyID, params.ExtensionID, params.SubscriptionID), nil)
	if err != nil {
		return nil, fmt.Errorf("billing: build request: %w", err)
	}

	var out platformSubscription
	if err := p.do(req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, ErrChargeNotFound
	}

	return &Charge{ID: out.ID, Status: out.Status}, nil
}

func (p *PlatformAuthority) subscriptionURL(companyID int64, extensionID, subscriptionID string) string {
	u := fmt.Sprintf("%s/service/platform/billing/v1.0/company/%d/extension/%s/subscription",
		p.baseURL, companyID, url.PathEscape(extensionID))
	if subscriptionID != "" {
		u += "/" + url.PathEscape(subscriptionID)
	}
	return u
}

func (p *PlatformAuthority) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("billing: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("billing: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodGet {
		return ErrChargeNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
		var body platformErrorBody
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("billing: decode response: %w", err)
	}
	return nil
}
