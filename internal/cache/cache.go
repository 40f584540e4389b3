// Package cache is the read-path response cache. Entries carry a TTL and
// can be invalidated in bulk by key pattern, which is how the projector
// drops every cached search result after an index change.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache stores serialized responses under string keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes every key matching the glob pattern and returns
	// how many were removed.
	Invalidate(ctx context.Context, pattern string) (int, error)

	Close() error
}

// IsMiss reports whether the error is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// SearchKey builds the deterministic cache key for a search query:
// {prefix}{q}:{page}:{limit}.
func SearchKey(prefix, query string, page, limit int) string {
	return fmt.Sprintf("%s%s:%d:%d", prefix, query, page, limit)
}
