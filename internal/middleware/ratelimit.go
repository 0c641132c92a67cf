package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dukerupert/plansync/internal/domain"
)

// RateLimiterConfig configures the rate limiter
type RateLimiterConfig struct {
	// RequestsPerSecond is the rate of token refill
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests allowed in a burst
	BurstSize int

	// CleanupInterval is how often idle buckets are dropped
	CleanupInterval time.Duration

	// KeyFunc extracts the rate limit key from the request.
	// Default: the company id set by RequireCompany.
	KeyFunc func(r *http.Request) string
}

// DefaultRateLimiterConfig limits charge creation per company.
// Each subscribe request on a paid plan creates a charge at the authority.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
		KeyFunc:           companyKey,
	}
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is an in-memory token bucket limiter keyed per request.
type RateLimiter struct {
	config  RateLimiterConfig
	buckets map[string]*tokenBucket
	mu      sync.Mutex
	stop    chan struct{}
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = companyKey
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go rl.cleanup()

	return rl
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = bucket
	}

	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * rl.config.RequestsPerSecond
	if bucket.tokens > float64(rl.config.BurstSize) {
		bucket.tokens = float64(rl.config.BurstSize)
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, bucket := range rl.buckets {
				if now.Sub(bucket.lastRefill) > rl.config.CleanupInterval {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.config.KeyFunc(r)) {
			w.Header().Set("Retry-After", "1")
			respondWithError(w, r, domain.Errorf(domain.ERATELIMIT, "http.ratelimit", "Too many subscription requests for this company"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func companyKey(r *http.Request) string {
	return strconv.FormatInt(GetCompanyID(r.Context()), 10)
}
