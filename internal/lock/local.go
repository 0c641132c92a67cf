package lock

import (
	"context"
	"fmt"
	"sync"
)

// LocalLocker implements Locker with in-process keyed mutexes.
// It only serializes callers within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

// localSlot is held or awaited by refs callers; it is dropped when refs reaches zero.
type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) checkout(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) checkin(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Acquire blocks until key is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.checkout(key)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.checkin(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.checkin(key, s)
		})
	}, nil
}
