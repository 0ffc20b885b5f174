package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"content-batch/internal/domain"
	"content-batch/internal/domain/ports/repository"
)

var _ repository.Locker = (*RedisLocker)(nil)

// RedisLocker is a SET NX lock shared by every replica.
type RedisLocker struct {
	cli     *redis.Client
	backoff time.Duration
}

func NewLocker(c *redClient) *RedisLocker {
	return &RedisLocker{cli: c.cli, backoff: 25 * time.Millisecond}
}

// TryLock polls until the key is free or ctx ends. ttl bounds how long a
// crashed holder can block others. Callers bound the wait through ctx.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for {
		ok, err := l.cli.SetNX(ctx, lockKey(key), token, ttl).Result()
		if err == nil && ok {
			return token, nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return "", fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, lastErr)
			}
			return "", fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, ctx.Err())
		case <-time.After(l.backoff):
		}
	}
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{lockKey(key)}, token).Result()
	return err
}

func lockKey(key string) string { return nsKey("lock:account:" + key) }
