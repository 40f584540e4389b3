// Package auth resolves bearer credentials to principals at the edge. The
// gateway owns extraction and propagation of the principal identity; token
// issuance and password handling belong to the identity service.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Errors returned during credential handling.
var (
	// ErrNoCredentials indicates the request carried no bearer credential.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidToken indicates the credential failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the identity resolved from a verified credential. It lives
// for the duration of one request and is never persisted.
type Principal struct {
	// ID is the stable identifier of the authenticated user.
	ID string
}

// Verifier validates an opaque bearer credential and yields a principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

const bearerPrefix = "Bearer "

// BearerFromRequest extracts the bearer token from the Authorization
// header. Returns ErrNoCredentials when the header is absent or not a
// bearer credential.
func BearerFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrNoCredentials
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}
