package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/socialmesh/edge/internal/ratelimit/store"
)

// TokenBucketLimiter admits requests while the bucket for a key holds
// tokens; tokens refill at a fixed rate up to the burst capacity. Refill
// and consume happen in one atomic store operation. When the shared store
// fails the limiter degrades to per-key local x/time buckets until the
// store recovers.
type TokenBucketLimiter struct {
	store  store.Store
	rate   float64
	burst  int
	logger *zap.Logger

	// Local fallback buckets, keyed by limiter key.
	local sync.Map
}

// NewTokenBucketLimiter creates a new token bucket rate limiter. A nil
// store means purely local limiting.
func NewTokenBucketLimiter(s store.Store, r float64, burst int, logger *zap.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenBucketLimiter{
		store:  s,
		rate:   r,
		burst:  burst,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key, n), nil
	}

	allowed, remaining, err := l.store.TakeTokens(ctx, "tb:"+key, l.rate, l.burst, n)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		l.logger.Warn("rate limit store unavailable, using local bucket",
			zap.String("key", key), zap.Error(err))
		return l.allowLocal(key, n), nil
	}

	return l.result(allowed, remaining, n), nil
}

func (l *TokenBucketLimiter) allowLocal(key string, n int) *Result {
	value, _ := l.local.LoadOrStore(key, rate.NewLimiter(rate.Limit(l.rate), l.burst))
	limiter := value.(*rate.Limiter)

	allowed := limiter.AllowN(time.Now(), n)
	return l.result(allowed, limiter.Tokens(), n)
}

func (l *TokenBucketLimiter) result(allowed bool, remaining float64, n int) *Result {
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := time.Duration((float64(l.burst) - remaining) / l.rate * float64(time.Second))
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		deficit := float64(n) - remaining
		if deficit < 0 {
			deficit = 0
		}
		retryAfter = time.Duration(math.Ceil(deficit/l.rate)) * time.Second
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.burst,
		Remaining:  int(remaining),
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.local.Delete(key)
	if l.store != nil {
		return l.store.Delete(ctx, "tb:"+key)
	}
	return nil
}
