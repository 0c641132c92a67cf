package routes

import (
	"net/http"

	"github.com/dukerupert/plansync/internal/handler"
	"github.com/dukerupert/plansync/internal/middleware"
)

// APIDeps contains dependencies for the company subscription API
type APIDeps struct {
	SubscriptionHandler *handler.SubscriptionHandler

	// SubscribeLimiter throttles charge creation per company. Optional.
	SubscribeLimiter *middleware.RateLimiter
}

// OpsDeps contains dependencies for operational endpoints
type OpsDeps struct {
	HealthHandler *handler.HealthHandler

	// MetricsHandler serves Prometheus metrics. Nil disables /metrics.
	MetricsHandler http.Handler
}
