package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/plansync/internal/telemetry"
)

// Metrics records request count and latency per route.
//
// The route label is the ServeMux pattern (e.g. "GET /api/v1/company/{company_id}/plans"),
// so company ids never reach label values. Must be applied per route, where
// r.Pattern is already set.
func Metrics(m *telemetry.SubscriptionMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			m.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
