// Package counter implements the shared distributed counter behind
// the rate limiter.
package counter

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"agentmesh/internal/domain"
)

// redisCmdable is the subset of the go-redis client the counter needs.
// It allows a real client or a mock to be used interchangeably.
type redisCmdable interface {
	Incr(ctx context.Context, key string) *goredis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *goredis.BoolCmd
}

// RedisCounter implements the limiter's Counter contract on Redis.
// Increment and expiry are two commands, but the expiry is only issued
// when this increment opened the window (count == 1), so a lost expiry
// can only follow a lost increment.
type RedisCounter struct {
	client redisCmdable
}

// NewRedisCounter creates a counter over an existing Redis client.
func NewRedisCounter(client redisCmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr atomically increments key and sets its expiry to the window
// length when this was the first increment of a fresh window.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrCounterUnavailable, err)
	}
	if n == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrCounterUnavailable, err)
		}
	}
	return n, nil
}
