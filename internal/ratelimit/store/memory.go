package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store using in-process memory. It is intended for
// tests and single-instance deployments; multi-instance deployments need
// the Redis store for limits to hold globally.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	buckets  map[string]*memoryBucket
	now      func() time.Time
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

type memoryBucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		buckets:  make(map[string]*memoryBucket),
		now:      time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.expired(c) {
		delete(s.counters, key)
		return 0, &ErrKeyNotFound{Key: key}
	}
	return c.value, nil
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.expired(c) {
		c = &memoryCounter{}
		if expiration > 0 {
			c.expiresAt = s.now().Add(expiration)
		}
		s.counters[key] = c
	}
	c.value += delta
	return c.value, nil
}

// TakeTokens implements Store.
func (s *MemoryStore) TakeTokens(ctx context.Context, key string, rate float64, burst int, n int) (bool, float64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &memoryBucket{tokens: float64(burst), lastUpdate: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * rate
	if b.tokens > float64(burst) {
		b.tokens = float64(burst)
	}
	b.lastUpdate = now

	if b.tokens < float64(n) {
		return false, b.tokens, nil
	}
	b.tokens -= float64(n)
	return true, b.tokens, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key)
	delete(s.buckets, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Cleanup removes expired counters. Callers may run it periodically to
// bound memory growth.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.counters {
		if s.expired(c) {
			delete(s.counters, key)
		}
	}
}

func (s *MemoryStore) expired(c *memoryCounter) bool {
	return !c.expiresAt.IsZero() && s.now().After(c.expiresAt)
}
