package middleware

import (
	"net/http"

	"github.com/dukerupert/plansync/internal/domain"
)

// Common size limits
const (
	KB = 1024

	// DefaultMaxBodySize bounds JSON request bodies. Subscribe requests are tiny.
	DefaultMaxBodySize = 64 * KB
)

// MaxBodySize limits the size of request bodies.
// If no size is provided, DefaultMaxBodySize is used.
// Bodies declared larger than the limit are rejected up front with 400;
// undeclared ones fail when the handler reads past the limit.
func MaxBodySize(maxBytes ...int64) func(http.Handler) http.Handler {
	limit := int64(DefaultMaxBodySize)
	if len(maxBytes) > 0 {
		limit = maxBytes[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > limit {
				respondWithError(w, r, domain.Invalid("http.body", "Request body too large"))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
