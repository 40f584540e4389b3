package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/observability"
)

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Logging returns a middleware that emits one access log line per request
// and records request metrics. The route label keeps metric cardinality
// bounded; callers pass the matched route name rather than the raw path.
func Logging(logger observability.Logger, route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

			logger.WithContext(r.Context()).Info("request handled",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("route", route),
				observability.Int("status", rec.status),
				observability.String("client_ip", ClientIPFromContext(r)),
				observability.Duration("duration", elapsed),
			)
		})
	}
}
