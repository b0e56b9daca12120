// Package ratelimit implements multi-tier admission control over
// window-scoped counters. The shared counter store is the only
// cross-process resource; every mutation against it is a single atomic
// increment-and-maybe-expire, so no distributed lock is needed.
package ratelimit

import (
	"context"
	"time"
)

// Counter is the atomic increment-with-expiry primitive backing the
// limiter. Implementations must set the key's expiry to the window
// length only when the post-increment count is 1 (first increment in a
// fresh window).
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}
