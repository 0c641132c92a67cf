package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubscriptionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSubscriptionMetrics(reg, "")

	m.SubscribeRequests.WithLabelValues("paid").Inc()
	m.SubscribeRequests.WithLabelValues("paid").Inc()
	m.DriftCorrections.WithLabelValues("expired").Inc()
	m.IntegrityViolations.Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SubscribeRequests.WithLabelValues("paid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DriftCorrections.WithLabelValues("expired")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IntegrityViolations))

	n, err := testutil.GatherAndCount(reg, "plansync_subscription_subscribe_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSubscriptionMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewSubscriptionMetrics(prometheus.NewRegistry(), "a")
		NewSubscriptionMetrics(prometheus.NewRegistry(), "a")
	})
}

func TestSentryDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cleanup, err := InitSentry(SentryConfig{Enabled: false}, logger)
	require.NoError(t, err)
	defer cleanup()
	assert.False(t, IsEnabled())

	cleanup2, err := InitSentry(SentryConfig{Enabled: true}, logger)
	require.NoError(t, err)
	defer cleanup2()
	assert.False(t, IsEnabled(), "missing DSN disables capture")

	assert.NotPanics(t, func() {
		Capture(context.Background(), errors.New("boom"), 7, nil)
		Capture(context.Background(), errors.New("boom"), 0, map[string]interface{}{"op": "test"})
		AddBreadcrumb(context.Background(), "billing", "get charge", nil)
		_, finish := StartSpan(context.Background(), "billing", "get charge")
		finish()
	})
}

func TestSentryMiddleware_Disabled(t *testing.T) {
	called := false
	h := SentryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestTags(t *testing.T) {
	var got map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/company/{company_id}/plans", func(w http.ResponseWriter, r *http.Request) {
		got = requestTags(r)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		got = requestTags(r)
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/company/42/plans", nil))
	assert.Equal(t, map[string]string{
		"route":      "GET /api/v1/company/{company_id}/plans",
		"company_id": "42",
	}, got)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, map[string]string{"route": "GET /healthz"}, got)

	assert.Empty(t, requestTags(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestHTTPTransport_Disabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &HTTPTransport{Transport: http.DefaultTransport}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
