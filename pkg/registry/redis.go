package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCoordinator lets multiple rsyslog-core processes sharing one Redis
// instance agree on when a SUSPENDED Action across the fleet should retry a
// TryResume call, rather than every process's resume timer firing
// independently against the same downstream target. Optional: a
// single-process deployment never constructs one.
type RedisCoordinator struct {
	client *redis.Client
	prefix string
}

// NewRedisCoordinator opens a coordinator against the given Redis address.
func NewRedisCoordinator(addr, prefix string) *RedisCoordinator {
	if prefix == "" {
		prefix = "rsyslog-core:resume:"
	}
	return &RedisCoordinator{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

// TryClaim attempts to become the single process allowed to call TryResume
// for moduleName this round, using SETNX-with-TTL so a crashed claimant
// doesn't permanently block the rest of the fleet.
func (c *RedisCoordinator) TryClaim(ctx context.Context, moduleName string, ttlSeconds int) (bool, error) {
	key := c.prefix + moduleName
	ok, err := c.client.SetNX(ctx, key, "1", time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("registry: redis claim %s: %w", moduleName, err)
	}
	return ok, nil
}

// Release clears a claim early, once TryResume has returned, so the next
// process in line doesn't wait out the full TTL.
func (c *RedisCoordinator) Release(ctx context.Context, moduleName string) error {
	return c.client.Del(ctx, c.prefix+moduleName).Err()
}

// Close releases the underlying Redis client.
func (c *RedisCoordinator) Close() error {
	return c.client.Close()
}
