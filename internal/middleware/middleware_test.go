package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialmesh/edge/internal/auth"
	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/ratelimit"
	"github.com/socialmesh/edge/internal/ratelimit/store"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(tag("outer"), tag("inner"))(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestID(t *testing.T) {
	t.Run("generates id when absent", func(t *testing.T) {
		var gotID string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID = observability.RequestIDFromContext(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, gotID)
		assert.Equal(t, gotID, rec.Header().Get(HeaderXRequestID))
	})

	t.Run("reuses supplied id", func(t *testing.T) {
		var gotID string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID = observability.RequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderXRequestID, "req-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", gotID)
		assert.Equal(t, "req-123", rec.Header().Get(HeaderXRequestID))
	})
}

func TestRecovery(t *testing.T) {
	handler := Recovery(observability.NopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
	assert.JSONEq(t, ErrInternal, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "upstream", "a gateway panic is not an upstream failure")
}

func TestClientIPExtractor(t *testing.T) {
	tests := []struct {
		name           string
		trustedProxies []string
		remoteAddr     string
		xff            string
		expected       string
	}{
		{
			name:       "no proxies uses remote addr",
			remoteAddr: "203.0.113.7:1234",
			xff:        "198.51.100.1",
			expected:   "203.0.113.7",
		},
		{
			name:           "trusted proxy honours xff",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "10.0.0.5:1234",
			xff:            "198.51.100.1",
			expected:       "198.51.100.1",
		},
		{
			name:           "untrusted peer ignores xff",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "203.0.113.7:1234",
			xff:            "198.51.100.1",
			expected:       "203.0.113.7",
		},
		{
			name:           "skips trusted hops right to left",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "10.0.0.5:1234",
			xff:            "198.51.100.1, 10.0.0.9",
			expected:       "198.51.100.1",
		},
		{
			name:           "single ip trusted proxy",
			trustedProxies: []string{"10.0.0.5"},
			remoteAddr:     "10.0.0.5:1234",
			xff:            "198.51.100.1",
			expected:       "198.51.100.1",
		},
		{
			name:           "trusted peer without xff",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "10.0.0.5:1234",
			expected:       "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := NewClientIPExtractor(tt.trustedProxies)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set(HeaderXForwardedFor, tt.xff)
			}
			assert.Equal(t, tt.expected, extractor.Extract(req))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	extractor := NewClientIPExtractor(nil)
	var gotIP string
	handler := ClientIP(extractor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIPFromContext(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", gotIP)
}

func TestRateLimit(t *testing.T) {
	logger := observability.NopLogger()

	t.Run("admits under limit", func(t *testing.T) {
		limiter := ratelimit.NewFixedWindowLimiter(store.NewMemoryStore(), 2, time.Minute, observability.Zap(logger))
		handler := RateLimit(limiter, "sensitive", logger)(okHandler())

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("rejects over limit with retry hint", func(t *testing.T) {
		limiter := ratelimit.NewFixedWindowLimiter(store.NewMemoryStore(), 1, time.Minute, observability.Zap(logger))
		handler := RateLimit(limiter, "sensitive", logger)(okHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.JSONEq(t, ErrTooManyRequests, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(HeaderRetryAfter))
	})

	t.Run("cancelled request never reaches the next stage", func(t *testing.T) {
		limiter := ratelimit.NewFixedWindowLimiter(store.NewMemoryStore(), 1, time.Minute, observability.Zap(logger))
		nextCalled := false
		handler := RateLimit(limiter, "sensitive", logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.False(t, nextCalled)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("separate clients get separate budgets", func(t *testing.T) {
		limiter := ratelimit.NewFixedWindowLimiter(store.NewMemoryStore(), 1, time.Minute, observability.Zap(logger))
		extractor := NewClientIPExtractor(nil)
		handler := Chain(ClientIP(extractor), RateLimit(limiter, "sensitive", logger))(okHandler())

		reqA := httptest.NewRequest(http.MethodGet, "/", nil)
		reqA.RemoteAddr = "203.0.113.1:1000"
		reqB := httptest.NewRequest(http.MethodGet, "/", nil)
		reqB.RemoteAddr = "203.0.113.2:1000"

		recA := httptest.NewRecorder()
		handler.ServeHTTP(recA, reqA)
		recB := httptest.NewRecorder()
		handler.ServeHTTP(recB, reqB)

		assert.Equal(t, http.StatusOK, recA.Code)
		assert.Equal(t, http.StatusOK, recB.Code)
	})
}

type stubVerifier struct {
	principal *auth.Principal
	err       error
}

func (s *stubVerifier) Verify(_ context.Context, _ string) (*auth.Principal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.principal, nil
}

func TestAuthenticate(t *testing.T) {
	logger := observability.NopLogger()

	t.Run("missing credentials", func(t *testing.T) {
		handler := Authenticate(&stubVerifier{err: auth.ErrInvalidToken}, logger)(okHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, ErrUnauthorized, rec.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		handler := Authenticate(&stubVerifier{err: auth.ErrInvalidToken}, logger)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, ErrInvalidCredentials, rec.Body.String())
	})

	t.Run("valid token injects identity header", func(t *testing.T) {
		var gotUserID string
		handler := Authenticate(&stubVerifier{principal: &auth.Principal{ID: "user-42"}}, logger)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUserID = r.Header.Get(HeaderUserID)
			}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "user-42", gotUserID)
	})

	t.Run("client supplied identity header is stripped", func(t *testing.T) {
		handler := Authenticate(&stubVerifier{err: auth.ErrInvalidToken}, logger)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "user-999")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, req.Header.Get(HeaderUserID))
	})

	t.Run("spoofed identity is replaced by verified one", func(t *testing.T) {
		var gotUserID string
		handler := Authenticate(&stubVerifier{principal: &auth.Principal{ID: "user-42"}}, logger)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUserID = r.Header.Get(HeaderUserID)
			}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		req.Header.Set(HeaderUserID, "user-999")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "user-42", gotUserID)
	})
}

func TestStripIdentityHeader(t *testing.T) {
	var gotUserID string
	handler := StripIdentityHeader()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.Header.Get(HeaderUserID)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "user-999")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, gotUserID)
}

func TestLogging(t *testing.T) {
	handler := Logging(observability.NopLogger(), "posts")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/posts", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
