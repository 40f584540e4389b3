package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *PostEvent {
	return &PostEvent{
		Type:      TypeCreated,
		PostID:    "post-1",
		UserID:    "user-42",
		Content:   "coffee time",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		eventType string
		topic     string
		wantErr   bool
	}{
		{TypeCreated, TopicPostCreated, false},
		{TypeDeleted, TopicPostDeleted, false},
		{"updated", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		e := validEvent()
		e.Type = tt.eventType
		topic, err := e.Topic()
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownTopic)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.topic, topic)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PostEvent)
	}{
		{"missing post id", func(e *PostEvent) { e.PostID = "" }},
		{"missing user id", func(e *PostEvent) { e.UserID = "" }},
		{"missing timestamp", func(e *PostEvent) { e.CreatedAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)
			assert.ErrorIs(t, e.Validate(), ErrInvalidEvent)
		})
	}

	assert.NoError(t, validEvent().Validate())
}

func TestMarshalUnmarshal(t *testing.T) {
	e := validEvent()
	payload, err := Marshal(e)
	require.NoError(t, err)

	decoded, err := Unmarshal(TopicPostCreated, payload)
	require.NoError(t, err)

	assert.Equal(t, TypeCreated, decoded.Type)
	assert.Equal(t, e.PostID, decoded.PostID)
	assert.Equal(t, e.UserID, decoded.UserID)
	assert.Equal(t, e.Content, decoded.Content)
	assert.True(t, e.CreatedAt.Equal(decoded.CreatedAt))
}

func TestUnmarshalDerivesTypeFromTopic(t *testing.T) {
	e := validEvent()
	e.Type = TypeDeleted
	e.Content = ""
	payload, err := Marshal(e)
	require.NoError(t, err)

	decoded, err := Unmarshal(TopicPostDeleted, payload)
	require.NoError(t, err)
	assert.Equal(t, TypeDeleted, decoded.Type)
}

func TestUnmarshalErrors(t *testing.T) {
	t.Run("unknown topic", func(t *testing.T) {
		_, err := Unmarshal("post.updated", []byte(`{}`))
		assert.ErrorIs(t, err, ErrUnknownTopic)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Unmarshal(TopicPostCreated, []byte(`not json`))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := Unmarshal(TopicPostCreated, []byte(`{"postId":"p1"}`))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestMarshalRejectsInvalid(t *testing.T) {
	e := validEvent()
	e.PostID = ""
	_, err := Marshal(e)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
