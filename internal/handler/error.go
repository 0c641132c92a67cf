package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/plansync/internal/domain"
	"github.com/dukerupert/plansync/internal/middleware"
	"github.com/dukerupert/plansync/internal/telemetry"
)

// retryAfterUnavailable is the Retry-After value, in seconds, sent with 503s.
const retryAfterUnavailable = "5"

// errorBody is the JSON envelope for every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	case domain.ENOTIMPL:
		return http.StatusNotImplemented // 501
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// ErrorResponse logs err and writes it as a JSON error envelope.
// Server errors are reported to Sentry; their details never reach the client.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if domain.IsValidationError(err) {
		ValidationErrorResponse(w, r, err)
		return
	}

	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"op", domain.ErrorOp(err),
		"status", status,
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
		telemetry.Capture(r.Context(), err, middleware.GetCompanyID(r.Context()), map[string]interface{}{
			"op":         domain.ErrorOp(err),
			"request_id": middleware.GetRequestID(r.Context()),
		})
	} else {
		logger.Info("request rejected", attrs...)
	}

	if domain.IsCode(err, domain.EUNAVAILABLE) {
		w.Header().Set("Retry-After", retryAfterUnavailable)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   domain.ErrorMessage(err),
		RequestID: middleware.GetRequestID(r.Context()),
	}})
}

// ValidationErrorResponse writes field-level validation failures as 400.
// Errors that are not validation errors fall back to ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if !domain.IsValidationError(err) {
		ErrorResponse(w, r, err)
		return
	}
	fields := domain.GetValidationFields(err)

	middleware.GetLogger(r.Context()).Info("validation failed", "fields", fields)

	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
		Code:      domain.EINVALID,
		Message:   "Request validation failed",
		Fields:    fields,
		RequestID: middleware.GetRequestID(r.Context()),
	}})
}

// NotFoundResponse writes a 404 for unmatched resources.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// InternalErrorResponse wraps err as internal and writes a generic 500.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
