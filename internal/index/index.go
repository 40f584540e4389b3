// Package index is the derived search store the read side projects post
// events into. Writes reconcile with last-writer-wins on the event
// timestamp, and deletes leave a tombstone, so the index converges to the
// same state no matter how deliveries are ordered or duplicated.
package index

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist in the index.
var ErrNotFound = errors.New("index: document not found")

// Document is one indexed post.
type Document struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the derived search index.
//
// Upsert and Delete carry the write-side timestamp and apply
// last-writer-wins per post id: a mutation older than what the index
// already holds is silently dropped. On a timestamp tie the delete wins,
// so create/delete races converge to absent.
type Store interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (*Document, error)
	Search(ctx context.Context, query string, page, limit int) ([]Document, int, error)
	Close() error
}

// IsNotFound reports whether the error is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
