package lock

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

func newTestRedisLocker(t *testing.T, opts RedisOptions) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRedisLocker(client, opts, logger), mr
}

// held returns the number of keys currently held or awaited.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func TestCompanyKey(t *testing.T) {
	assert.Equal(t, "company:42", CompanyKey(42))
}

// exerciseMutualExclusion runs contending goroutines and checks no two
// critical sections overlap.
func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				release, err := l.Acquire(context.Background(), CompanyKey(1))
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				release()
			}
		}()
	}

	wg.Wait()
	assert.False(t, overlap.Load(), "critical sections overlapped")
}

func TestLocalLocker(t *testing.T) {
	t.Run("mutual exclusion", func(t *testing.T) {
		exerciseMutualExclusion(t, NewLocalLocker())
	})

	t.Run("different keys do not block", func(t *testing.T) {
		l := NewLocalLocker()
		r1, err := l.Acquire(context.Background(), CompanyKey(1))
		require.NoError(t, err)
		defer r1()

		r2, err := l.Acquire(context.Background(), CompanyKey(2))
		require.NoError(t, err)
		r2()
	})

	t.Run("context cancel while held", func(t *testing.T) {
		l := NewLocalLocker()
		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = l.Acquire(ctx, "k")
		assert.ErrorIs(t, err, ErrNotAcquired)
	})

	t.Run("released keys are dropped", func(t *testing.T) {
		l := NewLocalLocker()
		for i := int64(0); i < 100; i++ {
			release, err := l.Acquire(context.Background(), CompanyKey(i))
			require.NoError(t, err)
			release()
		}
		assert.Equal(t, 0, l.held())

		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(ctx, "k")
		require.ErrorIs(t, err, ErrNotAcquired)
		assert.Equal(t, 1, l.held(), "timed out waiter leaves the holder's slot")

		release()
		assert.Equal(t, 0, l.held())
	})

	t.Run("double release", func(t *testing.T) {
		l := NewLocalLocker()
		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		release()
		release()
		assert.Equal(t, 0, l.held())

		again, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		again()
	})
}

func TestRedisLocker(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		l, mr := newTestRedisLocker(t, RedisOptions{})

		release, err := l.Acquire(context.Background(), CompanyKey(7))
		require.NoError(t, err)
		assert.True(t, mr.Exists("plansync:lock:company:7"))

		release()
		assert.False(t, mr.Exists("plansync:lock:company:7"))
	})

	t.Run("mutual exclusion", func(t *testing.T) {
		l, _ := newTestRedisLocker(t, RedisOptions{RetryInterval: time.Millisecond})
		exerciseMutualExclusion(t, l)
	})

	t.Run("wait timeout", func(t *testing.T) {
		l, _ := newTestRedisLocker(t, RedisOptions{WaitTimeout: 30 * time.Millisecond, RetryInterval: 5 * time.Millisecond})

		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		defer release()

		_, err = l.Acquire(context.Background(), "k")
		assert.ErrorIs(t, err, ErrNotAcquired)
	})

	t.Run("stale token does not release another holder", func(t *testing.T) {
		l, mr := newTestRedisLocker(t, RedisOptions{})

		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		defer release()

		l.buildRelease("plansync:lock:k", "wrong-token")()
		assert.True(t, mr.Exists("plansync:lock:k"))
	})

	t.Run("ttl expiry frees the key", func(t *testing.T) {
		l, mr := newTestRedisLocker(t, RedisOptions{TTL: 500 * time.Millisecond, WaitTimeout: 50 * time.Millisecond})

		_, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)

		mr.FastForward(time.Second)

		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		release()
	})

	t.Run("custom prefix", func(t *testing.T) {
		l, mr := newTestRedisLocker(t, RedisOptions{Prefix: "test:"})

		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:k"))
		release()
	})
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}
