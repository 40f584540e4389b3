// Package store provides storage backends for rate limit counter state.
//
// Counter state lives in a shared store so that limits hold across all
// gateway and service instances: the increment-and-check is a single atomic
// operation against the store, never a read-modify-write in process memory.
package store

import (
	"context"
	"time"
)

// Store is the shared counter store used by the rate limiters.
type Store interface {
	// Get retrieves the counter value for the given key.
	Get(ctx context.Context, key string) (int64, error)

	// IncrementWithExpiry atomically increments the counter for the given
	// key by delta and sets the expiration if the key is new. Returns the
	// value after the increment.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// TakeTokens atomically refills the token bucket for the given key at
	// rate tokens/second up to burst capacity and consumes n tokens if
	// available. Returns whether the tokens were taken and the remaining
	// token count after the call.
	TakeTokens(ctx context.Context, key string, rate float64, burst int, n int) (bool, float64, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	_, ok := err.(*ErrKeyNotFound)
	return ok
}
