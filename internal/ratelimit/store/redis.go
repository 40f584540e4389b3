package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// incrementWithExpiryScript atomically increments a counter and sets its
// expiration on first write.
// KEYS[1] = key, ARGV[1] = delta, ARGV[2] = expiration in seconds.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// takeTokensScript refills and consumes a token bucket in a single atomic
// step so concurrent instances cannot double-spend tokens.
// KEYS[1] = key
// ARGV[1] = rate (tokens/second), ARGV[2] = burst, ARGV[3] = n,
// ARGV[4] = now in milliseconds, ARGV[5] = key TTL in seconds.
var takeTokensScript = redis.NewScript(`
	local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local n = tonumber(ARGV[3])
	local now = tonumber(ARGV[4])

	local tokens = tonumber(state[1])
	local ts = tonumber(state[2])
	if tokens == nil or ts == nil then
		tokens = burst
		ts = now
	end

	local elapsed = (now - ts) / 1000.0
	if elapsed > 0 then
		tokens = math.min(burst, tokens + elapsed * rate)
	end

	local allowed = 0
	if tokens >= n then
		tokens = tokens - n
		allowed = 1
	end

	redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
	redis.call('EXPIRE', KEYS[1], ARGV[5])
	return {allowed, tostring(tokens)}
`)

// RedisStore implements Store using Redis. All mutations go through Lua
// scripts so increment-and-check stays atomic across gateway instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	// now supplies the token bucket refill timestamp; swapped in tests.
	now func() time.Time
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *zap.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		Prefix:       "ratelimit:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis store and verifies connectivity.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests with
// miniredis and by processes that share one client between store and cache.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger, now: time.Now}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	val, err := s.client.Get(ctx, s.prefix+key).Int64()
	if err == redis.Nil {
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// IncrementWithExpiry implements Store.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	seconds := int64(expiration / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	val, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.prefix + key}, delta, seconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}
	return val, nil
}

// TakeTokens implements Store.
func (s *RedisStore) TakeTokens(ctx context.Context, key string, rate float64, burst int, n int) (bool, float64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}

	// Keep the bucket around long enough to refill completely, plus slack.
	ttl := int64(float64(burst)/rate) + 60

	res, err := takeTokensScript.Run(ctx, s.client, []string{s.prefix + key},
		rate, burst, n, s.now().UnixMilli(), ttl).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis take tokens: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis take tokens: unexpected reply %v", res)
	}

	allowed, ok := res[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("redis take tokens: unexpected allowed value %v", res[0])
	}
	tokensStr, ok := res[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("redis take tokens: unexpected tokens value %v", res[1])
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return false, 0, fmt.Errorf("redis take tokens: parse tokens: %w", err)
	}

	return allowed == 1, tokens, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
