package adapter

import (
	"context"
	"time"
)

// Locker serializes work on one key across processes.
type Locker interface {
	// TryLock returns domain.ErrLockBusy when the key stays held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
