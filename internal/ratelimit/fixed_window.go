package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/socialmesh/edge/internal/ratelimit/store"
)

// FixedWindowLimiter admits at most limit requests per key per window.
// The counter is incremented and checked in one atomic store operation, so
// the admitted count cannot exceed the limit even with many gateway
// instances sharing the store. When the shared store fails the limiter
// degrades to an in-process counter rather than failing requests, which
// keeps the edge available at the cost of a per-instance limit until the
// store recovers.
type FixedWindowLimiter struct {
	store    store.Store
	fallback *store.MemoryStore
	limit    int
	window   time.Duration
	logger   *zap.Logger
}

// NewFixedWindowLimiter creates a new fixed window rate limiter. A nil
// store means purely local limiting.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedWindowLimiter{
		store:    s,
		fallback: store.NewMemoryStore(),
		limit:    limit,
		window:   window,
		logger:   logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := now.Truncate(l.window)
	windowKey := l.windowKey(key, windowStart)

	// Expire a little after the window closes to cover clock skew.
	expiration := l.window + time.Second

	count, err := l.incr(ctx, windowKey, int64(n), expiration)
	if err != nil {
		return nil, err
	}

	allowed := count <= int64(l.limit)

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// incr increments against the shared store, falling back to the local
// counter when the store is absent or unreachable.
func (l *FixedWindowLimiter) incr(ctx context.Context, key string, n int64, expiration time.Duration) (int64, error) {
	if l.store == nil {
		return l.fallback.IncrementWithExpiry(ctx, key, n, expiration)
	}

	count, err := l.store.IncrementWithExpiry(ctx, key, n, expiration)
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		l.logger.Warn("rate limit store unavailable, using local counter",
			zap.String("key", key), zap.Error(err))
		return l.fallback.IncrementWithExpiry(ctx, key, n, expiration)
	}
	return count, nil
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	windowKey := l.windowKey(key, time.Now().Truncate(l.window))
	_ = l.fallback.Delete(ctx, windowKey)
	if l.store != nil {
		return l.store.Delete(ctx, windowKey)
	}
	return nil
}

func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())
}
