// Package projector applies post lifecycle events to the derived search
// index. It is a pure reducer over the event stream: the same events in
// any order, with any duplication, leave the index in the same state.
package projector

import (
	"context"
	"fmt"

	"github.com/socialmesh/edge/internal/cache"
	"github.com/socialmesh/edge/internal/event"
	"github.com/socialmesh/edge/internal/index"
	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/observability"
)

// Projector folds events into the index and invalidates cached search
// responses that may now be stale.
type Projector struct {
	store  index.Store
	cache  cache.Cache
	prefix string
	logger observability.Logger
}

// New creates a projector. prefix is the cache key prefix whose entries
// are invalidated after every applied event ("search:").
func New(store index.Store, c cache.Cache, prefix string, logger observability.Logger) *Projector {
	return &Projector{
		store:  store,
		cache:  c,
		prefix: prefix,
		logger: logger,
	}
}

// Apply folds one event into the index. An error means the event was not
// durably applied and should be redelivered; the caller owns retry
// bounds.
func (p *Projector) Apply(ctx context.Context, e *event.PostEvent) error {
	switch e.Type {
	case event.TypeCreated:
		doc := index.Document{
			PostID:    e.PostID,
			UserID:    e.UserID,
			Content:   e.Content,
			CreatedAt: e.OccurredAt(),
		}
		if err := p.store.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("projector: upsert %s: %w", e.PostID, err)
		}
	case event.TypeDeleted:
		if err := p.store.Delete(ctx, e.PostID, e.OccurredAt()); err != nil {
			return fmt.Errorf("projector: delete %s: %w", e.PostID, err)
		}
	default:
		return fmt.Errorf("projector: %w: type %q", event.ErrUnknownTopic, e.Type)
	}

	p.invalidate(ctx, e)
	return nil
}

// invalidate drops every cached search response. Coarse by design: any
// index change can affect any query, and the next read recomputes.
// Failure here is not a projection failure; the entries age out with
// their TTL anyway.
func (p *Projector) invalidate(ctx context.Context, e *event.PostEvent) {
	removed, err := p.cache.Invalidate(ctx, p.prefix+"*")
	if err != nil {
		metrics.CacheOps.WithLabelValues("invalidate_error").Inc()
		p.logger.WithContext(ctx).Warn("search cache invalidation failed",
			observability.String("post_id", e.PostID),
			observability.Error(err),
		)
		return
	}

	metrics.CacheOps.WithLabelValues("invalidate").Inc()
	p.logger.WithContext(ctx).Debug("search cache invalidated",
		observability.String("post_id", e.PostID),
		observability.Int("removed", removed),
	)
}
