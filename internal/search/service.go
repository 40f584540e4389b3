// Package search serves post search queries on the read side: a
// read-through TTL cache in front of the derived index.
package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/socialmesh/edge/internal/cache"
	"github.com/socialmesh/edge/internal/index"
	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/observability"
)

// Results is one page of search results plus paging bookkeeping. The
// field names are part of the public response shape.
type Results struct {
	SearchResults []index.Document `json:"searchResults"`
	CurrentPage   int              `json:"currentPage"`
	TotalPages    int              `json:"totalPages"`
	TotalResults  int              `json:"totalResults"`
}

// Service answers search queries through the response cache.
type Service struct {
	store  index.Store
	cache  cache.Cache
	prefix string
	ttl    time.Duration
	logger observability.Logger
}

// NewService creates a search service. prefix and ttl configure the
// response cache entries.
func NewService(store index.Store, c cache.Cache, prefix string, ttl time.Duration, logger observability.Logger) *Service {
	return &Service{
		store:  store,
		cache:  c,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Search returns one page of results. The bool reports whether the
// response came from the cache. Cache failures degrade to a recompute;
// two concurrent misses may both recompute and set, which is benign
// because they write equivalent values.
func (s *Service) Search(ctx context.Context, query string, page, limit int) (*Results, bool, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	key := cache.SearchKey(s.prefix, query, page, limit)

	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		var results Results
		if jsonErr := json.Unmarshal(cached, &results); jsonErr == nil {
			metrics.CacheOps.WithLabelValues("hit").Inc()
			return &results, true, nil
		}
		// Undecodable entry: fall through and recompute over it.
		s.logger.WithContext(ctx).Warn("dropping malformed cache entry",
			observability.String("key", key),
		)
	} else if !cache.IsMiss(err) {
		metrics.CacheOps.WithLabelValues("error").Inc()
		s.logger.WithContext(ctx).Warn("search cache read failed, recomputing",
			observability.String("key", key),
			observability.Error(err),
		)
	}
	metrics.CacheOps.WithLabelValues("miss").Inc()

	docs, total, err := s.store.Search(ctx, query, page, limit)
	if err != nil {
		return nil, false, err
	}

	results := &Results{
		SearchResults: docs,
		CurrentPage:   page,
		TotalPages:    totalPages(total, limit),
		TotalResults:  total,
	}

	if payload, err := json.Marshal(results); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
			s.logger.WithContext(ctx).Warn("search cache write failed",
				observability.String("key", key),
				observability.Error(err),
			)
		}
	}

	return results, false, nil
}

func totalPages(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
