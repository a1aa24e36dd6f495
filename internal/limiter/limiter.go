// Package limiter throttles repeated failed attempts per key, for example
// join-token guessing by one user.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failures per key and temporarily blocks noisy keys.
type Limiter interface {
	// Allow reports whether key may try now and, if not, the retry-after.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Success resets the counters of key.
	Success(ctx context.Context, key string) error
	// Failure records a failed attempt; blocked is true once the limit is hit.
	Failure(ctx context.Context, key string) (blocked bool, retryAfter time.Duration, err error)
}

// Policy is shared by both implementations.
type Policy struct {
	Window   time.Duration // failures older than this start a fresh count
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy allows five failures per 15 minutes, then blocks for 15 minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}
