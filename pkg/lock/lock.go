// Package lock provides advisory locks that serialize workflow transitions.
// A lock is held for the duration of one transition and released when the
// transition commits or rolls back. Acquisition is fail-fast: a held lock
// returns ErrAlreadyLocked instead of blocking.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyLocked is returned when the lock is held by another owner.
var ErrAlreadyLocked = errors.New("workflow is already locked")

// Locker acquires and releases named advisory locks. Acquire returns a
// release token that must be passed back to Release so a stale holder
// cannot release a lock it no longer owns.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) error
}
