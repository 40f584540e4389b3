// Package event defines the post lifecycle events exchanged between the
// write side and the search read side. Events are immutable facts; the
// CreatedAt timestamp orders concurrent writes to the same post.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Topics carrying post lifecycle events.
const (
	TopicPostCreated = "post.created"
	TopicPostDeleted = "post.deleted"
)

// Event types, mirrored from the topic on decode.
const (
	TypeCreated = "created"
	TypeDeleted = "deleted"
)

var (
	// ErrUnknownTopic is returned when a message arrives on a topic this
	// package does not decode.
	ErrUnknownTopic = errors.New("event: unknown topic")

	// ErrInvalidEvent is returned when a payload is missing required fields.
	ErrInvalidEvent = errors.New("event: invalid payload")
)

// PostEvent is a post lifecycle fact. Type is derived from the topic and
// not part of the wire payload.
type PostEvent struct {
	Type    string `json:"-"`
	PostID  string `json:"postId"`
	UserID  string `json:"userId"`
	Content string `json:"content,omitempty"`

	// CreatedAt is when the mutation happened at the write side. Consumers
	// use it for last-writer-wins reconciliation, so it must come from the
	// producer, never from receive time.
	CreatedAt time.Time `json:"createdAt"`
}

// OccurredAt returns the logical timestamp ordering this event against
// other events for the same post.
func (e *PostEvent) OccurredAt() time.Time {
	return e.CreatedAt
}

// Topic returns the topic this event publishes to.
func (e *PostEvent) Topic() (string, error) {
	switch e.Type {
	case TypeCreated:
		return TopicPostCreated, nil
	case TypeDeleted:
		return TopicPostDeleted, nil
	default:
		return "", fmt.Errorf("%w: type %q", ErrUnknownTopic, e.Type)
	}
}

// Validate checks the event carries the fields consumers depend on.
func (e *PostEvent) Validate() error {
	if e.PostID == "" {
		return fmt.Errorf("%w: missing postId", ErrInvalidEvent)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidEvent)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing createdAt", ErrInvalidEvent)
	}
	return nil
}

// Marshal encodes the event payload as JSON.
func Marshal(e *PostEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Unmarshal decodes a payload received on the given topic.
func Unmarshal(topic string, payload []byte) (*PostEvent, error) {
	var eventType string
	switch topic {
	case TopicPostCreated:
		eventType = TypeCreated
	case TopicPostDeleted:
		eventType = TypeDeleted
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	var e PostEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	e.Type = eventType

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
