package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN              string
	Enabled          bool
	Environment      string
	Release          string
	SampleRate       float64 // 0 means capture every error
	TracesSampleRate float64 // 0 disables tracing
	Debug            bool
}

var sentryEnabled atomic.Bool

// InitSentry starts the Sentry client. Reporting stays off when disabled or
// when no DSN is configured. The returned func flushes pending events.
func InitSentry(cfg SentryConfig, logger *slog.Logger) (func(), error) {
	sentryEnabled.Store(false)

	if !cfg.Enabled {
		logger.Info("Sentry disabled")
		return func() {}, nil
	}
	if cfg.DSN == "" {
		logger.Warn("Sentry DSN not configured, disabling error tracking")
		return func() {}, nil
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       sampleRate,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       "plansync",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	sentryEnabled.Store(true)

	logger.Info("Sentry initialized",
		"environment", cfg.Environment,
		"release", cfg.Release,
		"sample_rate", sampleRate,
	)

	return func() { sentry.Flush(2 * time.Second) }, nil
}

// IsEnabled reports whether errors are being sent to Sentry.
func IsEnabled() bool {
	return sentryEnabled.Load()
}

// Capture reports err on the hub attached to ctx, falling back to the global
// hub. A non-zero companyID is added as the company_id tag.
func Capture(ctx context.Context, err error, companyID int64, extras map[string]interface{}) {
	if !IsEnabled() || err == nil {
		return
	}

	hub := hubFrom(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		if companyID != 0 {
			scope.SetTag("company_id", strconv.FormatInt(companyID, 10))
		}
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		hub.CaptureException(err)
	})
}

// AddBreadcrumb records a step of a billing authority exchange.
func AddBreadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	if !IsEnabled() {
		return
	}

	hubFrom(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Data:     data,
		Level:    sentry.LevelInfo,
	}, nil)
}

// StartSpan starts a tracing span under ctx.
func StartSpan(ctx context.Context, operation, description string) (context.Context, func()) {
	if !IsEnabled() {
		return ctx, func() {}
	}

	span := sentry.StartSpan(ctx, operation)
	span.Description = description
	return span.Context(), span.Finish
}

// SentryMiddleware gives each request its own hub, tagged with the matched
// route and the company from the path.
func SentryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			hub := sentry.CurrentHub().Clone()
			scope := hub.Scope()
			scope.SetRequest(r)
			for key, value := range requestTags(r) {
				scope.SetTag(key, value)
			}

			next.ServeHTTP(w, r.WithContext(sentry.SetHubOnContext(r.Context(), hub)))
		})
	}
}

// HTTPTransport traces outbound billing authority calls.
type HTTPTransport struct {
	Transport http.RoundTripper
}

func (t *HTTPTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !IsEnabled() {
		return t.Transport.RoundTrip(req)
	}

	span := sentry.StartSpan(req.Context(), "http.client")
	span.Description = req.Method + " " + req.URL.Path
	defer span.Finish()

	resp, err := t.Transport.RoundTrip(req)
	switch {
	case err != nil:
		span.Status = sentry.SpanStatusInternalError
	case resp.StatusCode >= 500:
		span.Status = sentry.SpanStatusUnavailable
		span.SetData("http.status_code", resp.StatusCode)
	default:
		span.SetData("http.status_code", resp.StatusCode)
	}

	return resp, err
}

// =============================================================================
// Helper Functions
// =============================================================================

func hubFrom(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// requestTags extracts the tags every event from r should carry.
func requestTags(r *http.Request) map[string]string {
	tags := map[string]string{}
	if r.Pattern != "" {
		tags["route"] = r.Pattern
	}
	if id := r.PathValue("company_id"); id != "" {
		tags["company_id"] = id
	}
	return tags
}
