package search

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/socialmesh/edge/internal/observability"
)

// Response messages, part of the public API shape.
const (
	msgFetched       = "Search results fetched successfully"
	msgFetchedCached = "Search results fetched from cache"
	msgFailed        = "Error while searching post"
)

// response is the search endpoint envelope: the results flattened
// together with success and message.
type response struct {
	Results
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handler serves GET /api/search/posts.
type Handler struct {
	service *Service
	logger  observability.Logger
}

// NewHandler creates the search HTTP handler.
func NewHandler(service *Service, logger observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, response{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}

	query := r.URL.Query().Get("query")
	page := intQueryParam(r, "page", 1)
	limit := intQueryParam(r, "limit", 10)

	results, fromCache, err := h.service.Search(r.Context(), query, page, limit)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("search failed",
			observability.String("query", query),
			observability.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, response{
			Success: false,
			Message: msgFailed,
		})
		return
	}

	msg := msgFetched
	if fromCache {
		msg = msgFetchedCached
	}
	writeJSON(w, http.StatusOK, response{
		Results: *results,
		Success: true,
		Message: msg,
	})
}

func intQueryParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
