package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"content-batch/internal/config"
)

// keyPrefix namespaces every key this service writes.
const keyPrefix = "cb:"

// RedisClient is the narrow slice of Redis the job cache and rate limiter use.
type RedisClient interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// IncrWindow increments key and arms its expiry on the first hit of a window.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Close() error
}

var _ RedisClient = (*redClient)(nil)

type redClient struct {
	cli *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redClient, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.URL, err)
	}
	return &redClient{cli: c}, nil
}

func nsKey(key string) string { return keyPrefix + key }

func (c *redClient) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

// Get returns redis.Nil when the key is absent.
func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, nsKey(key)).Result()
}

func (c *redClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.cli.Set(ctx, nsKey(key), value, ttl).Err()
}

func (c *redClient) Del(ctx context.Context, keys ...string) error {
	ns := make([]string, len(keys))
	for i, k := range keys {
		ns[i] = nsKey(k)
	}
	return c.cli.Del(ctx, ns...).Err()
}

var luaIncrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

func (c *redClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return luaIncrWindow.Run(ctx, c.cli, []string{nsKey(key)}, window.Milliseconds()).Int64()
}

func (c *redClient) Close() error { return c.cli.Close() }
