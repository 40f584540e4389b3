package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialmesh/edge/internal/event"
	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/producer"
)

type capturingPublisher struct {
	events []*event.PostEvent
}

func (p *capturingPublisher) Publish(_ context.Context, e *event.PostEvent) error {
	p.events = append(p.events, e)
	return nil
}

func newTestHandler() (*postHandler, *capturingPublisher) {
	pub := &capturingPublisher{}
	logger := observability.NopLogger()
	return newPostHandler(producer.New(pub, logger), logger), pub
}

func createPost(t *testing.T, h *postHandler, userID, content string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(`{"content":"`+content+`"}`))
	req.Header.Set("x-user-id", userID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.ID)
	return body.Data.ID
}

func TestCreatePublishesEvent(t *testing.T) {
	h, pub := newTestHandler()

	id := createPost(t, h, "user-42", "hello world")

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, event.TypeCreated, e.Type)
	assert.Equal(t, id, e.PostID)
	assert.Equal(t, "user-42", e.UserID)
	assert.Equal(t, "hello world", e.Content)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestCreateRequiresIdentity(t *testing.T) {
	h, pub := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, pub.events)
}

func TestCreateRequiresContent(t *testing.T) {
	h, pub := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(`{}`))
	req.Header.Set("x-user-id", "user-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.events)
}

func TestGetPost(t *testing.T) {
	h, _ := newTestHandler()
	id := createPost(t, h, "user-42", "hello")

	req := httptest.NewRequest(http.MethodGet, "/api/posts/"+id, nil)
	req.Header.Set("x-user-id", "user-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
}

func TestDeletePublishesEvent(t *testing.T) {
	h, pub := newTestHandler()
	id := createPost(t, h, "user-42", "hello")

	req := httptest.NewRequest(http.MethodDelete, "/api/posts/"+id, nil)
	req.Header.Set("x-user-id", "user-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.events, 2)
	e := pub.events[1]
	assert.Equal(t, event.TypeDeleted, e.Type)
	assert.Equal(t, id, e.PostID)
	assert.True(t, e.CreatedAt.After(pub.events[0].CreatedAt) || e.CreatedAt.Equal(pub.events[0].CreatedAt))
}

func TestDeleteByOtherUserForbidden(t *testing.T) {
	h, pub := newTestHandler()
	id := createPost(t, h, "user-42", "hello")

	req := httptest.NewRequest(http.MethodDelete, "/api/posts/"+id, nil)
	req.Header.Set("x-user-id", "user-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, pub.events, 1, "no delete event for a forbidden request")
}

func TestDeleteMissingPost(t *testing.T) {
	h, pub := newTestHandler()

	req := httptest.NewRequest(http.MethodDelete, "/api/posts/ghost", nil)
	req.Header.Set("x-user-id", "user-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, pub.events)
}

type flakyPublisher struct {
	capturingPublisher
	err error
}

func (p *flakyPublisher) Publish(ctx context.Context, e *event.PostEvent) error {
	if p.err != nil {
		return p.err
	}
	return p.capturingPublisher.Publish(ctx, e)
}

func TestDeleteRestoresPostWhenPublishFails(t *testing.T) {
	pub := &flakyPublisher{}
	logger := observability.NopLogger()
	h := newPostHandler(producer.New(pub, logger), logger)
	id := createPost(t, h, "user-42", "hello")

	pub.err = errors.New("broker down")
	req := httptest.NewRequest(http.MethodDelete, "/api/posts/"+id, nil)
	req.Header.Set("x-user-id", "user-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The post must survive the failed delete so a retry can emit the
	// event the read side needs.
	req = httptest.NewRequest(http.MethodGet, "/api/posts/"+id, nil)
	req.Header.Set("x-user-id", "user-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	pub.err = nil
	req = httptest.NewRequest(http.MethodDelete, "/api/posts/"+id, nil)
	req.Header.Set("x-user-id", "user-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.events, 2)
	assert.Equal(t, event.TypeDeleted, pub.events[1].Type)
}

func TestListPosts(t *testing.T) {
	h, _ := newTestHandler()
	createPost(t, h, "user-42", "one")
	createPost(t, h, "user-42", "two")

	req := httptest.NewRequest(http.MethodGet, "/api/posts/all", nil)
	req.Header.Set("x-user-id", "user-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []storedPost `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}
