// Package middleware provides HTTP middleware for the plansync API.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/plansync/internal/domain"
)

type contextKey string

// ============================================================================
// MIDDLEWARE ERROR RESPONSE HELPERS
// ============================================================================
//
// These mirror handler.ErrorResponse but are self-contained, since handler
// imports middleware for GetLogger and GetCompanyID.

// respondWithError writes a JSON error body and logs the failure.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := errorCodeToHTTPStatus(code)

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"status", status,
	}
	logger := GetLogger(r.Context())
	if status >= 500 {
		logger.Error("middleware error", attrs...)
	} else {
		logger.Info("middleware error", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": domain.ErrorMessage(err),
		},
	})
}

// errorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.ENOTIMPL:
		return http.StatusNotImplemented // 501
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}
