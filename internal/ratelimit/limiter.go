// Package ratelimit provides distributed rate limiting for the edge
// services. Two algorithms are supported: a fixed window quota for
// sensitive routes and a token bucket for general traffic. Counter state
// lives in a shared store (see the store sub-package) so limits hold
// globally across concurrently running instances.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether requests identified by a key are admitted.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN checks if n requests are allowed for the given key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// Reset resets the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current window
	// or bucket.
	Remaining int

	// ResetAfter is the duration until the limit fully resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when rejected).
	RetryAfter time.Duration
}

// Key builds a counter key from a scope and a client identifier.
func Key(scope, client string) string {
	return scope + ":" + client
}
