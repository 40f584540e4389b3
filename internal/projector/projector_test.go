package projector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialmesh/edge/internal/cache"
	"github.com/socialmesh/edge/internal/event"
	"github.com/socialmesh/edge/internal/index"
	"github.com/socialmesh/edge/internal/observability"
)

func ts(second int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, second, 0, time.UTC)
}

func created(id string, at time.Time, content string) *event.PostEvent {
	return &event.PostEvent{
		Type:      event.TypeCreated,
		PostID:    id,
		UserID:    "user-42",
		Content:   content,
		CreatedAt: at,
	}
}

func deleted(id string, at time.Time) *event.PostEvent {
	return &event.PostEvent{
		Type:      event.TypeDeleted,
		PostID:    id,
		UserID:    "user-42",
		CreatedAt: at,
	}
}

func newProjector(t *testing.T) (*Projector, index.Store, cache.Cache) {
	t.Helper()
	store := index.NewMemoryStore()
	c := cache.NewMemoryCache()
	return New(store, c, "search:", observability.NopLogger()), store, c
}

func TestApplyCreated(t *testing.T) {
	p, store, _ := newProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, created("p1", ts(1), "hello world")))

	doc, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", doc.Content)
	assert.Equal(t, "user-42", doc.UserID)
}

func TestApplyDeleted(t *testing.T) {
	p, store, _ := newProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, created("p1", ts(1), "hello")))
	require.NoError(t, p.Apply(ctx, deleted("p1", ts(2))))

	_, err := store.Get(ctx, "p1")
	assert.True(t, index.IsNotFound(err))
}

func TestApplyIsIdempotent(t *testing.T) {
	p, store, _ := newProjector(t)
	ctx := context.Background()

	e := created("p1", ts(1), "hello")
	require.NoError(t, p.Apply(ctx, e))
	require.NoError(t, p.Apply(ctx, e))
	require.NoError(t, p.Apply(ctx, e))

	doc, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)

	_, total, err := store.Search(ctx, "hello", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestApplyDeleteBeforeCreate(t *testing.T) {
	p, store, _ := newProjector(t)
	ctx := context.Background()

	// The delete was emitted after the create but delivered first.
	require.NoError(t, p.Apply(ctx, deleted("p1", ts(2))))
	require.NoError(t, p.Apply(ctx, created("p1", ts(1), "late arrival")))

	_, err := store.Get(ctx, "p1")
	assert.True(t, index.IsNotFound(err))
}

func TestApplyDeleteOfUnknownPost(t *testing.T) {
	p, store, _ := newProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, deleted("ghost", ts(1))))

	_, err := store.Get(ctx, "ghost")
	assert.True(t, index.IsNotFound(err))
}

func TestApplyInvalidatesSearchCache(t *testing.T) {
	p, _, c := newProjector(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "search:coffee:1:10", []byte("stale"), time.Minute))
	require.NoError(t, c.Set(ctx, "other:key", []byte("kept"), time.Minute))

	require.NoError(t, p.Apply(ctx, created("p1", ts(1), "coffee")))

	_, err := c.Get(ctx, "search:coffee:1:10")
	assert.True(t, cache.IsMiss(err))

	kept, err := c.Get(ctx, "other:key")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), kept)
}

func TestApplyRejectsUnknownType(t *testing.T) {
	p, _, _ := newProjector(t)

	e := created("p1", ts(1), "x")
	e.Type = "updated"
	assert.Error(t, p.Apply(context.Background(), e))
}

type failingStore struct {
	index.Store
}

func (f *failingStore) Upsert(context.Context, index.Document) error {
	return errors.New("index unavailable")
}

func TestApplyPropagatesStoreErrors(t *testing.T) {
	c := cache.NewMemoryCache()
	p := New(&failingStore{Store: index.NewMemoryStore()}, c, "search:", observability.NopLogger())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "search:coffee:1:10", []byte("cached"), time.Minute))

	err := p.Apply(ctx, created("p1", ts(1), "x"))
	assert.Error(t, err)

	// A failed projection must not invalidate the cache.
	cached, err := c.Get(ctx, "search:coffee:1:10")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), cached)
}
