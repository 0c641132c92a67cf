package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports liveness of the service and its dependencies.
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a health handler running checks by name.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

// Healthz handles GET /healthz
// Responds 200 when every check passes and 503 otherwise.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}
