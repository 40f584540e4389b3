// Package producer publishes post lifecycle events after the
// authoritative mutation has committed on the write side.
package producer

import (
	"context"
	"time"

	"github.com/socialmesh/edge/internal/event"
	"github.com/socialmesh/edge/internal/observability"
)

// Publisher is the bus surface the producer needs.
type Publisher interface {
	Publish(ctx context.Context, e *event.PostEvent) error
}

// Post is the write-side view of a post.
type Post struct {
	ID        string
	UserID    string
	Content   string
	CreatedAt time.Time
}

// Producer emits lifecycle events for committed post mutations.
type Producer struct {
	bus    Publisher
	logger observability.Logger
}

// New creates a producer.
func New(bus Publisher, logger observability.Logger) *Producer {
	return &Producer{bus: bus, logger: logger}
}

// PostCreated publishes post.created. An error means downstream
// projections will not see the post; the caller decides whether the
// mutation response should fail with it.
func (p *Producer) PostCreated(ctx context.Context, post Post) error {
	return p.publish(ctx, &event.PostEvent{
		Type:      event.TypeCreated,
		PostID:    post.ID,
		UserID:    post.UserID,
		Content:   post.Content,
		CreatedAt: post.CreatedAt,
	})
}

// PostDeleted publishes post.deleted. at is the deletion time at the
// write side, ordering the delete against the create.
func (p *Producer) PostDeleted(ctx context.Context, post Post, at time.Time) error {
	return p.publish(ctx, &event.PostEvent{
		Type:      event.TypeDeleted,
		PostID:    post.ID,
		UserID:    post.UserID,
		CreatedAt: at,
	})
}

func (p *Producer) publish(ctx context.Context, e *event.PostEvent) error {
	if err := p.bus.Publish(ctx, e); err != nil {
		p.logger.WithContext(ctx).Error("event publish failed",
			observability.String("type", e.Type),
			observability.String("post_id", e.PostID),
			observability.Error(err),
		)
		return err
	}
	return nil
}
