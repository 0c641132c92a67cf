package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlatform(t *testing.T, handler http.HandlerFunc) *PlatformAuthority {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewPlatformAuthority(PlatformConfig{BaseURL: srv.URL, APIToken: "tok_test"}, srv.Client())
	require.NoError(t, err)
	return p
}

func TestPlatformConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PlatformConfig
		wantErr bool
	}{
		{name: "valid", config: PlatformConfig{BaseURL: "https://api.platform.example", APIToken: "tok"}},
		{name: "missing base url", config: PlatformConfig{APIToken: "tok"}, wantErr: true},
		{name: "relative base url", config: PlatformConfig{BaseURL: "api", APIToken: "tok"}, wantErr: true},
		{name: "missing token", config: PlatformConfig{BaseURL: "https://api.platform.example"}, wantErr: true},
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
}

func TestPlatformAuthority_CreateSubscriptionCharge(t *testing.T) {
	var gotBody map[string]any
	var gotPath, gotAuth, gotIdem string

	p := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"subscription":{"_id":"sub_abc","status":"pending"},"confirm_url":"https://pay/sub_abc"}`))
	})

	params := validChargeParams()
	params.IdempotencyKey = "idem_1"

	charge, err := p.CreateSubscriptionCharge(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, "sub_abc", charge.ID)
	assert.Equal(t, ChargeStatusPending, charge.Status)
	assert.Equal(t, "https://pay/sub_abc", charge.ConfirmURL)

	assert.Equal(t, "/service/platform/billing/v1.0/company/7/extension/ext_123/subscription", gotPath)
	assert.Equal(t, "Bearer tok_test", gotAuth)
	assert.Equal(t, "idem_1", gotIdem)

	assert.Equal(t, "Pro", gotBody["name"])
	assert.Equal(t, "https://ext.example/callback", gotBody["return_url"])
	items := gotBody["line_items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Everything unlocked", item["term"])
	assert.Equal(t, "recurring", item["pricing_type"])
	assert.Equal(t, 19.99, item["price"].(map[string]any)["amount"])
	assert.Equal(t, "USD", item["price"].(map[string]any)["currency_code"])
	assert.Equal(t, "month", item["recurring"].(map[string]any)["interval"])
}

func TestPlatformAuthority_CreateSubscriptionCharge_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		p := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Request-Id", "req_9")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream down"}`))
		})

		_, err := p.CreateSubscriptionCharge(context.Background(), validChargeParams())

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Equal(t, "upstream down", apiErr.Message)
		assert.Equal(t, "req_9", apiErr.RequestID)
		assert.True(t, apiErr.IsTemporary())
	})

	t.Run("missing subscription id", func(t *testing.T) {
		p := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"subscription":{},"confirm_url":"https://pay/x"}`))
		})

		_, err := p.CreateSubscriptionCharge(context.Background(), validChargeParams())
		assert.Error(t, err)
	})

	t.Run("invalid params never reach the api", func(t *testing.T) {
		called := false
		p := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
			called = true
		})

		params := validChargeParams()
		params.Body.LineItems = nil
		_, err := p.CreateSubscriptionCharge(context.Background(), params)
		assert.ErrorIs(t, err, ErrNoLineItems)
		assert.False(t, called)
	})
}

func TestPlatformAuthority_GetSubscriptionCharge(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
		wantErr    error
	}{
		{
			name:       "active charge",
			status:     http.StatusOK,
			body:       `{"_id":"sub_abc","status":"active"}`,
			wantStatus: ChargeStatusActive,
		},
		{
			name:       "expired charge",
			status:     http.StatusOK,
			body:       `{"_id":"sub_abc","status":"expired"}`,
			wantStatus: ChargeStatusExpired,
		},
		{
			name:    "unknown charge",
			status:  http.StatusNotFound,
			body:    `{"message":"not found"}`,
			wantErr: ErrChargeNotFound,
		},
		{
			name:    "null body",
			status:  http.StatusOK,
			body:    `null`,
			wantErr: ErrChargeNotFound,
		},
		{
			name:    "empty body",
			status:  http.StatusOK,
			body:    ``,
			wantErr: ErrChargeNotFound,
		},
		{
			name:    "body without id",
			status:  http.StatusOK,
			body:    `{"status":"active"}`,
			wantErr: ErrChargeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			p := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			charge, err := p.GetSubscriptionCharge(context.Background(), GetChargeParams{
				ExtensionID:    "ext_123",
				CompanyID:      7,
				SubscriptionID: "sub_abc",
			})

			assert.Equal(t, "/service/platform/billing/v1.0/company/7/extension/ext_123/subscription/sub_abc", gotPath)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "sub_abc", charge.ID)
			assert.Equal(t, tt.wantStatus, charge.Status)
		})
	}
}

func TestPlatformAuthority_GetSubscriptionCharge_EmptyID(t *testing.T) {
	p := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	})

	_, err := p.GetSubscriptionCharge(context.Background(), GetChargeParams{ExtensionID: "ext_123", CompanyID: 7})
	assert.ErrorIs(t, err, ErrChargeNotFound)
}
