package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/plansync/internal/domain"
	"github.com/dukerupert/plansync/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorEnvelope struct {
	Error struct {
		Code      string            `json:"code"`
		Message   string            `json:"message"`
		Fields    map[string]string `json:"fields"`
		RequestID string            `json:"request_id"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{domain.ENOTIMPL, http.StatusNotImplemented},
		{domain.EUNAVAILABLE, http.StatusServiceUnavailable},
		{"unknown_code", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, ErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "not found error",
			err:            domain.NotFound("plan.get", "plan", "pro"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   domain.ENOTFOUND,
		},
		{
			name:           "validation error",
			err:            domain.Invalid("subscription.subscribe", "plan_id is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   domain.EINVALID,
		},
		{
			name:           "authority unavailable",
			err:            domain.Unavailable(errors.New("timeout"), "subscription.subscribe", "billing authority failed"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   domain.EUNAVAILABLE,
		},
		{
			name:           "plain error",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   domain.EINTERNAL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()

			ErrorResponse(rec, req, tt.err)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.expectedCode, decodeEnvelope(t, rec).Error.Code)
		})
	}
}

func TestErrorResponse_InternalHidesDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	err := domain.Internal(nil, "db.query", "failed to connect to database at 192.168.1.100:5432")
	ErrorResponse(rec, req, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An internal error occurred. Please try again later.", decodeEnvelope(t, rec).Error.Message)
}

func TestErrorResponse_UnavailableSetsRetryAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, domain.Unavailable(errors.New("timeout"), "subscription.subscribe", "billing authority failed"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	ErrorResponse(rec, req, domain.NotFound("plan.get", "plan", "pro"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestErrorResponse_ValidationErrorKeepsFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, domain.NewValidationError("subscription.cancel", "status", "must be cancelled or expired"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, domain.EINVALID, env.Error.Code)
	assert.Equal(t, map[string]string{"status": "must be cancelled or expired"}, env.Error.Fields)
}

func TestErrorResponse_IncludesRequestID(t *testing.T) {
	var rec *httptest.ResponseRecorder
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(w, r, domain.NotFound("plan.get", "plan", "pro"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-9")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-9", decodeEnvelope(t, rec).Error.RequestID)
}

func TestValidationErrorResponse(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	rec := httptest.NewRecorder()

	err := domain.NewValidationError("subscription.subscribe", "plan_id", "is required")
	err = domain.AddFieldError(err, "callback_url", "must be a valid URL")

	ValidationErrorResponse(rec, req, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, domain.EINVALID, env.Error.Code)
	assert.Equal(t, map[string]string{
		"plan_id":      "is required",
		"callback_url": "must be a valid URL",
	}, env.Error.Fields)
}

func TestValidationErrorResponse_NonValidationError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	rec := httptest.NewRecorder()

	ValidationErrorResponse(rec, req, domain.NotFound("plan.get", "plan", "123"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConvenienceResponses(t *testing.T) {
	t.Run("NotFoundResponse", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NotFoundResponse(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("InternalErrorResponse", func(t *testing.T) {
		rec := httptest.NewRecorder()
		InternalErrorResponse(rec, httptest.NewRequest(http.MethodGet, "/test", nil), nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
