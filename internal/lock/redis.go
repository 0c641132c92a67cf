package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisOptions configures a RedisLocker.
type RedisOptions struct {
	// Prefix is prepended to every key. Default: "plansync:lock:"
	Prefix string

	// TTL bounds how long a crashed holder can block others. Default: 30s
	TTL time.Duration

	// RetryInterval is the pause between acquisition attempts. Default: 50ms
	RetryInterval time.Duration

	// WaitTimeout caps the total time spent waiting. Default: 10s
	WaitTimeout time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Prefix == "" {
		o.Prefix = "plansync:lock:"
	}
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 50 * time.Millisecond
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 10 * time.Second
	}
	return o
}

// RedisLocker implements Locker with Redis SET NX PX and a token-checked release,
// so every server instance sees the same lock.
type RedisLocker struct {
	client redis.UniversalClient
	opts   RedisOptions
	logger *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "lock"),
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire polls SET NX until the key is obtained, ctx is done, or the wait timeout elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.opts.Prefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, fullKey, token, l.opts.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return l.buildRelease(fullKey, token), nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, waitCtx.Err())
		}
	}
}

func (l *RedisLocker) buildRelease(fullKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "key", fullKey, "error", err)
			}
		})
	}
}
