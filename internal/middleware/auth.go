package middleware

import (
	"io"
	"net/http"

	"github.com/socialmesh/edge/internal/auth"
	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/observability"
)

// Authenticate returns a middleware that verifies the bearer credential and
// forwards the principal id to the backend. Any client-supplied identity
// header is dropped before verification so backends only ever see an id the
// gateway vouched for.
func Authenticate(verifier auth.Verifier, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(HeaderUserID)

			token, err := auth.BearerFromRequest(r)
			if err != nil {
				rejectAuth(w, r, logger, http.StatusUnauthorized, ErrUnauthorized, err)
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				rejectAuth(w, r, logger, http.StatusUnauthorized, ErrInvalidCredentials, err)
				return
			}

			r.Header.Set(HeaderUserID, principal.ID)
			next.ServeHTTP(w, r)
		})
	}
}

// StripIdentityHeader returns a middleware that removes the internal
// identity header from incoming requests. Public routes use it so clients
// cannot impersonate a verified principal on paths that skip Authenticate.
func StripIdentityHeader() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(HeaderUserID)
			next.ServeHTTP(w, r)
		})
	}
}

func rejectAuth(w http.ResponseWriter, r *http.Request, logger observability.Logger, status int, body string, err error) {
	metrics.AuthFailures.Inc()
	logger.WithContext(r.Context()).Warn("authentication failed",
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)

	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
