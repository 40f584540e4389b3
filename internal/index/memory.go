package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	doc       *Document
	deletedAt time.Time
}

// ts returns the timestamp of the entry's latest applied mutation.
func (e *memoryEntry) ts() time.Time {
	if e.doc != nil {
		return e.doc.CreatedAt
	}
	return e.deletedAt
}

// MemoryStore is an in-process index for tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates a new in-memory index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
	}
}

// Upsert adds or replaces a document unless the index already holds a
// newer mutation for the same id.
func (s *MemoryStore) Upsert(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[doc.PostID]
	if ok {
		if entry.doc == nil && !entry.deletedAt.Before(doc.CreatedAt) {
			// Tombstone is at least as new; the post stays deleted.
			return nil
		}
		if entry.doc != nil && entry.doc.CreatedAt.After(doc.CreatedAt) {
			return nil
		}
	}

	d := doc
	s.entries[doc.PostID] = &memoryEntry{doc: &d}
	return nil
}

// Delete removes a document and records a tombstone unless the index
// holds a newer mutation. Deleting an absent id is a no-op that still
// leaves the tombstone.
func (s *MemoryStore) Delete(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if ok && entry.ts().After(at) {
		return nil
	}

	s.entries[id] = &memoryEntry{deletedAt: at}
	return nil
}

// Get returns the document for id, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok || entry.doc == nil {
		return nil, ErrNotFound
	}

	d := *entry.doc
	return &d, nil
}

// Search returns the page of documents whose content contains the query,
// newest first, and the total match count. An empty query matches
// everything.
func (s *MemoryStore) Search(ctx context.Context, query string, page, limit int) ([]Document, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	matches := make([]Document, 0)
	needle := strings.ToLower(query)
	for _, entry := range s.entries {
		if entry.doc == nil {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(entry.doc.Content), needle) {
			continue
		}
		matches = append(matches, *entry.doc)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].PostID < matches[j].PostID
	})

	return paginate(matches, page, limit), len(matches), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func paginate(docs []Document, page, limit int) []Document {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	start := (page - 1) * limit
	if start >= len(docs) {
		return []Document{}
	}
	end := start + limit
	if end > len(docs) {
		end = len(docs)
	}
	return docs[start:end]
}
