package middleware

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/ratelimit"
)

// RateLimit returns a middleware that admits or rejects requests through
// the given limiter, keyed by client IP under the given scope. Rejections
// get a 429 with a Retry-After hint; the request never reaches the next
// stage.
func RateLimit(limiter ratelimit.Limiter, scope string, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.Key(scope, ClientIPFromContext(r))
			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// The limiters degrade to local state on store failure, so
				// an error here means the request context is gone. Nothing
				// useful can be written to the client; stop the pipeline.
				metrics.RateLimitDecisions.WithLabelValues(scope, "error").Inc()
				logger.WithContext(r.Context()).Warn("rate limit check failed",
					observability.String("scope", scope),
					observability.String("key", key),
					observability.Error(err),
				)
				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, ErrInternal)
				return
			}

			if !result.Allowed {
				metrics.RateLimitDecisions.WithLabelValues(scope, "rejected").Inc()
				logger.WithContext(r.Context()).Warn("rate limit exceeded",
					observability.String("scope", scope),
					observability.String("key", key),
					observability.String("path", r.URL.Path),
				)

				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, ErrTooManyRequests)
				return
			}

			metrics.RateLimitDecisions.WithLabelValues(scope, "allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}
