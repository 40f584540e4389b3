// Package gateway assembles the edge gateway: config in, a running HTTP
// server out. Each configured route gets its own middleware chain and
// upstream forwarder; cross-cutting endpoints (probes, metrics) hang off
// a separate listener.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/socialmesh/edge/internal/auth"
	"github.com/socialmesh/edge/internal/config"
	"github.com/socialmesh/edge/internal/health"
	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/middleware"
	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/proxy"
	"github.com/socialmesh/edge/internal/ratelimit"
	"github.com/socialmesh/edge/internal/ratelimit/store"
	"github.com/socialmesh/edge/internal/router"
)

// App is the assembled gateway process.
type App struct {
	cfg     *config.Gateway
	logger  observability.Logger
	handler http.Handler
	checker *health.Checker

	limiterStore store.Store
}

// New builds the gateway from its configuration. The returned App owns
// the limiter store and Redis client and closes them on shutdown.
func New(cfg *config.Gateway, logger observability.Logger) (*App, error) {
	if err := config.ValidateGateway(cfg); err != nil {
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		logger:  logger,
		checker: health.NewChecker(),
	}

	if err := app.buildLimiterStore(); err != nil {
		return nil, err
	}

	handler, err := app.buildHandler()
	if err != nil {
		app.closeStores()
		return nil, err
	}
	app.handler = handler

	return app, nil
}

// buildLimiterStore picks the distributed counter store: Redis when
// configured, otherwise a per-process memory store.
func (a *App) buildLimiterStore() error {
	if a.cfg.Redis.Address == "" {
		a.logger.Warn("no redis configured, rate limits are per-instance")
		a.limiterStore = store.NewMemoryStore()
		return nil
	}

	timeout := time.Duration(a.cfg.Redis.Timeout)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        a.cfg.Redis.Address,
		Password:    a.cfg.Redis.Password,
		DB:          a.cfg.Redis.DB,
		DialTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("gateway: connect to redis at %s: %w", a.cfg.Redis.Address, err)
	}

	a.limiterStore = store.NewRedisStoreWithClient(client, a.cfg.Redis.Prefix, observability.Zap(a.logger))
	a.checker.Register("redis", health.RedisCheck(client))
	return nil
}

// buildHandler wires the route table into one root handler.
func (a *App) buildHandler() (http.Handler, error) {
	table, err := router.New(a.cfg.Routes)
	if err != nil {
		return nil, err
	}

	var verifier auth.Verifier
	if a.cfg.Auth.JWTSecret != "" {
		verifier, err = auth.NewJWTVerifier(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
		if err != nil {
			return nil, err
		}
	}

	extractor := middleware.NewClientIPExtractor(a.cfg.TrustedProxies)
	zapLogger := observability.Zap(a.logger)

	sensitiveLimiter := ratelimit.NewFixedWindowLimiter(
		a.limiterStore,
		a.cfg.RateLimit.Sensitive.Requests,
		time.Duration(a.cfg.RateLimit.Sensitive.Window),
		zapLogger,
	)
	generalLimiter := ratelimit.NewTokenBucketLimiter(
		a.limiterStore,
		a.cfg.RateLimit.General.Rate,
		a.cfg.RateLimit.General.Burst,
		zapLogger,
	)

	handlers := make(map[string]http.Handler, len(table.Rules()))
	for _, rule := range table.Rules() {
		handler, err := a.buildRouteHandler(rule, verifier, extractor, sensitiveLimiter, generalLimiter)
		if err != nil {
			return nil, err
		}
		handlers[rule.Name] = handler
	}

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := table.Match(r.URL.Path)
		if rule == nil {
			metrics.RequestsTotal.WithLabelValues("unrouted", "404").Inc()
			w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeJSON)
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, middleware.ErrNotFound)
			return
		}
		handlers[rule.Name].ServeHTTP(w, r)
	})

	return root, nil
}

// buildRouteHandler stacks the middleware chain for one route around its
// forwarder. Order: request id, recovery, client ip, access log, rate
// limit, then auth, so every rejection is logged and counted.
func (a *App) buildRouteHandler(
	rule *router.Rule,
	verifier auth.Verifier,
	extractor *middleware.ClientIPExtractor,
	sensitive ratelimit.Limiter,
	general ratelimit.Limiter,
) (http.Handler, error) {
	forwarder := proxy.NewForwarder(rule,
		proxy.WithLogger(a.logger),
		proxy.WithTimeout(time.Duration(a.cfg.Upstream.Timeout)),
		proxy.WithBreaker(
			uint32(a.cfg.Upstream.BreakerFailures),
			time.Duration(a.cfg.Upstream.BreakerCooldown),
		),
	)

	limiter := general
	scope := "general"
	if rule.Sensitive {
		limiter = sensitive
		scope = "sensitive"
	}

	stages := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Recovery(a.logger),
		middleware.ClientIP(extractor),
		middleware.Logging(a.logger, rule.Name),
		middleware.RateLimit(limiter, scope, a.logger),
	}

	if rule.RequiresAuth {
		if verifier == nil {
			return nil, fmt.Errorf("gateway: route %s requires auth but no jwt secret configured", rule.Name)
		}
		stages = append(stages, middleware.Authenticate(verifier, a.logger))
	} else {
		stages = append(stages, middleware.StripIdentityHeader())
	}

	return middleware.Chain(stages...)(forwarder), nil
}

// Handler returns the gateway's root handler. Exported for end-to-end
// tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Checker returns the health checker so callers can register process
// specific checks before Run.
func (a *App) Checker() *health.Checker {
	return a.checker
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	defer a.closeStores()

	server := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	opsMux := http.NewServeMux()
	opsMux.Handle("/healthz", a.checker.LivenessHandler())
	opsMux.Handle("/readyz", a.checker.ReadinessHandler())
	opsMux.Handle("/metrics", metrics.Handler())
	opsServer := &http.Server{
		Addr:              a.cfg.MetricsListen,
		Handler:           opsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("gateway listening", observability.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		a.logger.Info("ops endpoints listening", observability.String("addr", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) closeStores() {
	if a.limiterStore != nil {
		_ = a.limiterStore.Close()
	}
}
