// Package middleware provides the HTTP pipeline stages shared by the edge
// services: request identity, panic recovery, access logging, client IP
// resolution, rate limiting, and authentication. Each stage either passes
// the request on or writes a terminal response.
package middleware

import "net/http"

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderUserID carries the verified principal id to backends. It is
	// trusted only inside the gateway's network boundary and must be
	// stripped from anything a client sends.
	HeaderUserID = "x-user-id"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// JSON error envelopes returned by terminal pipeline stages.
const (
	// ErrTooManyRequests is the 429 response body.
	ErrTooManyRequests = `{"success":false,"message":"Too many requests. Please try again later."}`

	// ErrUnauthorized is the 401 response body.
	ErrUnauthorized = `{"success":false,"message":"Authentication required"}`

	// ErrInvalidCredentials is the 401 response body for bad tokens.
	ErrInvalidCredentials = `{"success":false,"message":"Invalid or expired token"}`

	// ErrNotFound is the 404 response body for unrouted paths.
	ErrNotFound = `{"success":false,"message":"Not found"}`

	// ErrInternal is the 500 response body for failures inside the
	// gateway itself. Upstream failures get their own body in the proxy.
	ErrInternal = `{"success":false,"message":"Internal server error"}`
)

// Middleware is a composable HTTP pipeline stage.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares so the first one listed is the outermost
// stage, mirroring the order checks run in.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		handler := final
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}
}
