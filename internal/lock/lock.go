package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHolder is returned by Release when the token no longer matches,
// meaning the lease expired and another instance may hold the lock now.
var ErrNotHolder = errors.New("not the lock holder")

// Locker is a cross-instance lease lock keyed by event identity. Acquire is
// atomic (set-if-absent with expiry); Release only succeeds for the holder
// whose token still matches, so an instance cannot release a lock another
// instance acquired after lease expiry.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
