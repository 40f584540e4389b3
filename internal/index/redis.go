package index

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tombstoneTTL is how long delete tombstones are kept. A late create for
// a deleted post arriving after this window would resurrect it; the
// window just has to exceed realistic redelivery delays.
const tombstoneTTL = 7 * 24 * time.Hour

// upsertScript applies a document unless a newer mutation is already
// recorded, either as a document or as a tombstone.
// KEYS[1] = doc hash, KEYS[2] = tombstone key.
// ARGV[1] = ts in milliseconds, ARGV[2] = userId, ARGV[3] = content.
var upsertScript = redis.NewScript(`
	local ts = tonumber(ARGV[1])
	local tomb = tonumber(redis.call('GET', KEYS[2]))
	if tomb and tomb >= ts then
		return 0
	end
	local cur = tonumber(redis.call('HGET', KEYS[1], 'ts'))
	if cur and cur > ts then
		return 0
	end
	redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'userId', ARGV[2], 'content', ARGV[3])
	return 1
`)

// deleteScript removes a document and records a tombstone unless a newer
// mutation is already recorded. The tombstone keeps a late create with an
// older timestamp from resurrecting the post.
// KEYS[1] = doc hash, KEYS[2] = tombstone key.
// ARGV[1] = ts in milliseconds, ARGV[2] = tombstone TTL in seconds.
var deleteScript = redis.NewScript(`
	local ts = tonumber(ARGV[1])
	local cur = tonumber(redis.call('HGET', KEYS[1], 'ts'))
	if cur and cur > ts then
		return 0
	end
	redis.call('DEL', KEYS[1])
	local tomb = tonumber(redis.call('GET', KEYS[2]))
	if not tomb or ts > tomb then
		redis.call('SET', KEYS[2], ARGV[1], 'EX', ARGV[2])
	end
	return 1
`)

// RedisStore implements Store on Redis, one hash per document plus a
// tombstone key per deleted id. Mutations go through Lua scripts so the
// last-writer-wins check and the write stay atomic across instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStoreWithClient wraps an existing client. The prefix namespaces
// all index keys.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisStore) docKey(id string) string {
	return s.prefix + "post:" + id
}

func (s *RedisStore) tombKey(id string) string {
	return s.prefix + "tomb:" + id
}

// Upsert implements Store.
func (s *RedisStore) Upsert(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	applied, err := upsertScript.Run(ctx, s.client,
		[]string{s.docKey(doc.PostID), s.tombKey(doc.PostID)},
		doc.CreatedAt.UnixMilli(), doc.UserID, doc.Content,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis index upsert: %w", err)
	}
	if applied == 0 {
		s.logger.Debug("stale upsert dropped", zap.String("post_id", doc.PostID))
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := deleteScript.Run(ctx, s.client,
		[]string{s.docKey(id), s.tombKey(id)},
		at.UnixMilli(), int64(tombstoneTTL/time.Second),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis index delete: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, s.docKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return docFromFields(id, fields)
}

// Search implements Store. Documents are scanned and filtered in-process;
// the index stays small enough that a SCAN pass per uncached query is
// acceptable, and hot queries are absorbed by the response cache.
func (s *RedisStore) Search(ctx context.Context, query string, page, limit int) ([]Document, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(query)
	matches := make([]Document, 0)

	iter := s.client.Scan(ctx, 0, s.prefix+"post:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("redis index search: %w", err)
		}
		if len(fields) == 0 {
			continue
		}

		doc, err := docFromFields(strings.TrimPrefix(key, s.prefix+"post:"), fields)
		if err != nil {
			s.logger.Warn("skipping malformed index entry", zap.String("key", key), zap.Error(err))
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(doc.Content), needle) {
			continue
		}
		matches = append(matches, *doc)
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("redis index search: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].PostID < matches[j].PostID
	})

	return paginate(matches, page, limit), len(matches), nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func docFromFields(id string, fields map[string]string) (*Document, error) {
	tsStr, ok := fields["ts"]
	if !ok {
		return nil, fmt.Errorf("index entry %s: missing ts", id)
	}
	tsMilli, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("index entry %s: bad ts: %w", id, err)
	}

	return &Document{
		PostID:    id,
		UserID:    fields["userId"],
		Content:   fields["content"],
		CreatedAt: time.UnixMilli(tsMilli).UTC(),
	}, nil
}
