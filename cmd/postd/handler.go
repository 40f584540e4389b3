package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/producer"
)

// storedPost is a post held by this service. Persistence is out of scope
// for the demo write side; the authoritative copy lives in memory.
type storedPost struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// postHandler serves the post mutation endpoints. It trusts the
// x-user-id header because only the gateway can reach it.
type postHandler struct {
	producer *producer.Producer
	logger   observability.Logger

	mu    sync.RWMutex
	posts map[string]storedPost
}

func newPostHandler(p *producer.Producer, logger observability.Logger) *postHandler {
	return &postHandler{
		producer: p,
		logger:   logger,
		posts:    make(map[string]storedPost),
	}
}

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (h *postHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		writeEnvelope(w, http.StatusUnauthorized, envelope{
			Success: false,
			Message: "Authentication required",
		})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/posts")
	rest = strings.Trim(rest, "/")

	switch {
	case r.Method == http.MethodPost && rest == "":
		h.create(w, r, userID)
	case r.Method == http.MethodGet && rest == "all":
		h.list(w)
	case r.Method == http.MethodGet && rest != "":
		h.get(w, rest)
	case r.Method == http.MethodDelete && rest != "":
		h.delete(w, r, rest, userID)
	default:
		writeEnvelope(w, http.StatusNotFound, envelope{
			Success: false,
			Message: "Not found",
		})
	}
}

func (h *postHandler) create(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		writeEnvelope(w, http.StatusBadRequest, envelope{
			Success: false,
			Message: "Content is required",
		})
		return
	}

	post := storedPost{
		ID:        uuid.New().String(),
		UserID:    userID,
		Content:   body.Content,
		CreatedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	h.posts[post.ID] = post
	h.mu.Unlock()

	if err := h.producer.PostCreated(r.Context(), producer.Post{
		ID:        post.ID,
		UserID:    post.UserID,
		Content:   post.Content,
		CreatedAt: post.CreatedAt,
	}); err != nil {
		// The post exists but the read side will not learn about it;
		// surface the failure so the client can retry.
		h.mu.Lock()
		delete(h.posts, post.ID)
		h.mu.Unlock()
		writeEnvelope(w, http.StatusInternalServerError, envelope{
			Success: false,
			Message: "Error creating post",
		})
		return
	}

	writeEnvelope(w, http.StatusCreated, envelope{
		Success: true,
		Message: "Post created successfully",
		Data:    post,
	})
}

func (h *postHandler) list(w http.ResponseWriter) {
	h.mu.RLock()
	posts := make([]storedPost, 0, len(h.posts))
	for _, post := range h.posts {
		posts = append(posts, post)
	}
	h.mu.RUnlock()

	writeEnvelope(w, http.StatusOK, envelope{Success: true, Data: posts})
}

func (h *postHandler) get(w http.ResponseWriter, id string) {
	h.mu.RLock()
	post, ok := h.posts[id]
	h.mu.RUnlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, envelope{
			Success: false,
			Message: "Post not found",
		})
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Data: post})
}

func (h *postHandler) delete(w http.ResponseWriter, r *http.Request, id, userID string) {
	h.mu.Lock()
	post, ok := h.posts[id]
	if ok && post.UserID != userID {
		h.mu.Unlock()
		writeEnvelope(w, http.StatusForbidden, envelope{
			Success: false,
			Message: "Not allowed to delete this post",
		})
		return
	}
	delete(h.posts, id)
	h.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, envelope{
			Success: false,
			Message: "Post not found",
		})
		return
	}

	if err := h.producer.PostDeleted(r.Context(), producer.Post{
		ID:     post.ID,
		UserID: post.UserID,
	}, time.Now().UTC()); err != nil {
		// Without the event the read side would keep the post forever;
		// restore the entry so a retry can emit it.
		h.mu.Lock()
		h.posts[post.ID] = post
		h.mu.Unlock()
		writeEnvelope(w, http.StatusInternalServerError, envelope{
			Success: false,
			Message: "Error deleting post",
		})
		return
	}

	writeEnvelope(w, http.StatusOK, envelope{
		Success: true,
		Message: "Post deleted successfully",
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
