package routes

import (
	"net/http"

	"github.com/dukerupert/plansync/internal/middleware"
	"github.com/dukerupert/plansync/internal/router"
)

// APIPrefix is the path prefix of company-scoped routes.
const APIPrefix = "/api/v1/company/{company_id}"

// RegisterAPIRoutes registers the company subscription API.
// Every route resolves {company_id} through middleware.RequireCompany.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	company := r.Group(middleware.RequireCompany)
	h := deps.SubscriptionHandler

	company.Get(APIPrefix+"/plans", h.ListPlans)
	company.Get(APIPrefix+"/subscriptions", h.ListSubscriptions)
	company.Get(APIPrefix+"/subscription/active", h.GetActive)

	// Authority return URL; the merchant's browser lands here after approval.
	company.Get(APIPrefix+"/subscription/status", h.UpdateStatus)

	subscribe := []router.Middleware{middleware.MaxBodySize()}
	if deps.SubscribeLimiter != nil {
		subscribe = append(subscribe, deps.SubscribeLimiter.Middleware)
	}
	company.Post(APIPrefix+"/subscription", h.Subscribe, subscribe...)
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/healthz", deps.HealthHandler.Healthz)
	if deps.MetricsHandler != nil {
		r.Handle(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
}
