// Package lock provides per-company mutual exclusion for read-decide-write
// sequences on subscription records.
package lock

import (
	"context"
	"errors"
	"strconv"
)

// ErrNotAcquired is returned when a lock could not be obtained before the
// context ended or the wait timeout elapsed.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker obtains an exclusive lock on a key.
// Acquire blocks until the lock is held or ctx is done. The returned release
// function is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// CompanyKey returns the lock key guarding a company's subscriptions.
func CompanyKey(companyID int64) string {
	return "company:" + strconv.FormatInt(companyID, 10)
}
