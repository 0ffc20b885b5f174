package repository

import (
	"context"
	"time"
)

// Locker serializes work on one key, e.g. balance mutations of an account.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
