package index

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "idx:", nil)
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, newTestRedisStore)
}

func TestRedisStoreKeysArePrefixed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStoreWithClient(client, "idx:", nil)

	require.NoError(t, s.Upsert(context.Background(), doc("p1", ts(1), "hello")))
	assert.True(t, mr.Exists("idx:post:p1"))
}

func TestRedisStoreTombstoneExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStoreWithClient(client, "idx:", nil)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "p1", ts(2)))
	require.True(t, mr.Exists("idx:tomb:p1"))
	assert.Equal(t, tombstoneTTL, mr.TTL("idx:tomb:p1"))

	// Once the tombstone lapses, an old create applies again. That is the
	// accepted trade-off of bounded tombstones.
	mr.FastForward(tombstoneTTL + time.Second)
	require.NoError(t, s.Upsert(ctx, doc("p1", ts(1), "resurrected")))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "resurrected", got.Content)
}
