// Package proxy forwards matched requests to their upstream services. Each
// route gets its own forwarder with a circuit breaker so one failing
// upstream cannot exhaust gateway resources for the others.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/router"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder proxies requests for a single route to its upstream target.
type Forwarder struct {
	rule    *router.Rule
	proxy   *httputil.ReverseProxy
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  observability.Logger
}

// Option is a functional option for configuring a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger for the forwarder.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithTransport sets the transport used to reach the upstream.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.proxy.Transport = transport
	}
}

// WithTimeout bounds how long a forwarded request may take end to end.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Forwarder) {
		f.timeout = timeout
	}
}

// WithBreaker configures the circuit breaker. The circuit opens after
// failures consecutive upstream errors and probes again after cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(f *Forwarder) {
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    f.rule.Name,
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Info("circuit breaker state change",
					observability.String("route", name),
					observability.String("from", from.String()),
					observability.String("to", to.String()),
				)
			},
		})
	}
}

// NewForwarder creates a forwarder for the given route.
func NewForwarder(rule *router.Rule, opts ...Option) *Forwarder {
	f := &Forwarder{
		rule:   rule,
		logger: observability.NopLogger(),
	}

	f.proxy = &httputil.ReverseProxy{
		Director:     f.director,
		ErrorHandler: f.handleUpstreamError,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// ServeHTTP implements http.Handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	if f.breaker == nil {
		f.proxy.ServeHTTP(w, r)
		return
	}

	rec := &outcomeRecorder{ResponseWriter: w}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		f.proxy.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			return nil, errServerStatus
		}
		return nil, nil
	})

	if err == nil || errors.Is(err, errServerStatus) {
		// Failure responses were already written inside Execute.
		return
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.logger.WithContext(r.Context()).Warn("circuit breaker rejected request",
			observability.String("route", f.rule.Name),
			observability.String("path", r.URL.Path),
		)
		writeJSONError(w, http.StatusServiceUnavailable, errUpstreamUnavailable)
	}
}

var errServerStatus = errors.New("upstream returned server error")

// outcomeRecorder tracks the response status so breaker accounting can
// treat upstream 5xx responses as failures.
type outcomeRecorder struct {
	http.ResponseWriter
	status int
}

func (r *outcomeRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *outcomeRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// director rewrites the outgoing request for the upstream target.
func (f *Forwarder) director(req *http.Request) {
	target := f.rule.Target

	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	req.URL.Path = joinPaths(target.Path, f.rule.Rewrite(req.URL.Path))
	req.Host = target.Host

	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	// ReverseProxy appends the client IP to X-Forwarded-For itself after
	// the director runs; appending it here would duplicate it.
	req.Header.Set("X-Forwarded-Proto", "http")
	if req.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	}
}

func joinPaths(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + path
}

// handleUpstreamError writes a sanitized response for transport failures.
func (f *Forwarder) handleUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	metrics.UpstreamErrors.WithLabelValues(f.rule.Name).Inc()
	f.logger.WithContext(r.Context()).Error("upstream request failed",
		observability.String("route", f.rule.Name),
		observability.String("target", f.rule.Target.String()),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)

	if errors.Is(err, context.DeadlineExceeded) {
		writeJSONError(w, http.StatusGatewayTimeout, errGatewayTimeout)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, errUpstreamFailed)
}

func writeJSONError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// TargetURL reports the upstream this forwarder sends to. Used by health
// checks and tests.
func (f *Forwarder) TargetURL() *url.URL {
	return f.rule.Target
}
