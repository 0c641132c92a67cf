package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SubscriptionMetrics holds Prometheus metrics for subscription reconciliation.
// Labels never include company ids.
type SubscriptionMetrics struct {
	// SubscribeRequests counts SubscribePlan outcomes.
	// result: free, paid, replayed, error
	SubscribeRequests *prometheus.CounterVec

	// StatusUpdates counts UpdateSubscriptionStatus outcomes.
	// outcome: activated, already_active, ended, declined, free_ignored, not_found, authority_not_found, error
	StatusUpdates *prometheus.CounterVec

	// DriftCorrections counts local records overwritten by the authority's view.
	// status: cancelled, expired
	DriftCorrections *prometheus.CounterVec

	// IntegrityViolations counts local paid records unknown to the authority.
	IntegrityViolations prometheus.Counter

	// Superseded counts active records cancelled because another was activated.
	Superseded prometheus.Counter

	// AuthorityLatency tracks billing authority call duration.
	// operation: create_charge, get_charge; result: ok, not_found, error
	AuthorityLatency *prometheus.HistogramVec

	// LockWait tracks time spent waiting for the per-company lock.
	LockWait prometheus.Histogram

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration tracks API request latency by route pattern.
	HTTPDuration *prometheus.HistogramVec
}

// NewSubscriptionMetrics creates the metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewSubscriptionMetrics(reg prometheus.Registerer, namespace string) *SubscriptionMetrics {
	if namespace == "" {
		namespace = "plansync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	subsystem := "subscription"

	return &SubscriptionMetrics{
		SubscribeRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscribe_requests_total",
				Help:      "Total plan subscription requests by result",
			},
			[]string{"result"},
		),
		StatusUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "status_updates_total",
				Help:      "Total authority callback confirmations by outcome",
			},
			[]string{"outcome"},
		),
		DriftCorrections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "drift_corrections_total",
				Help:      "Total active subscriptions corrected to the authority status",
			},
			[]string{"status"},
		),
		IntegrityViolations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "integrity_violations_total",
				Help:      "Total active subscriptions the billing authority has no record of",
			},
		),
		Superseded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "superseded_total",
				Help:      "Total active subscriptions cancelled by a newer activation",
			},
		),
		AuthorityLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "authority_duration_seconds",
				Help:      "Billing authority call duration",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "result"},
		),
		LockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for the per-company lock",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
}
