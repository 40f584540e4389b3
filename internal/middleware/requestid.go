package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/socialmesh/edge/internal/observability"
)

// RequestID returns a middleware that tags each request with an id,
// reusing one supplied by the caller when present.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)

			w.Header().Set(HeaderXRequestID, requestID)
			next.ServeHTTP(w, r)
		})
	}
}
