package middleware

import (
	"context"
	"net/http"

	"github.com/dukerupert/plansync/internal/domain"
)

const (
	// CompanyIDPathValue is the route wildcard holding the company id.
	CompanyIDPathValue = "company_id"

	// CompanyIDContextKey is the context key for the parsed company id.
	CompanyIDContextKey contextKey = "company_id"
)

// RequireCompany parses the {company_id} path value and stores it in the
// request context. Requests with a missing or malformed id get 400.
//
// Must be applied per route (not globally) so that PathValue is populated.
func RequireCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		companyID, err := domain.ParseCompanyID(r.PathValue(CompanyIDPathValue))
		if err != nil {
			respondWithError(w, r, err)
			return
		}

		ctx := WithCompanyID(r.Context(), companyID)
		ctx = withLoggerAttrs(ctx, "company_id", companyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithCompanyID returns a copy of ctx carrying companyID.
func WithCompanyID(ctx context.Context, companyID int64) context.Context {
	return context.WithValue(ctx, CompanyIDContextKey, companyID)
}

// GetCompanyID returns the company id from the context, or 0.
func GetCompanyID(ctx context.Context) int64 {
	if id, ok := ctx.Value(CompanyIDContextKey).(int64); ok {
		return id
	}
	return 0
}
