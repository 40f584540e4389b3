package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/socialmesh/edge/internal/bus"
	"github.com/socialmesh/edge/internal/cache"
	"github.com/socialmesh/edge/internal/config"
	"github.com/socialmesh/edge/internal/event"
	"github.com/socialmesh/edge/internal/health"
	"github.com/socialmesh/edge/internal/index"
	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/middleware"
	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/projector"
	"github.com/socialmesh/edge/internal/ratelimit"
	"github.com/socialmesh/edge/internal/ratelimit/store"
	"github.com/socialmesh/edge/internal/search"
)

// app wires the search read-service: the event consumer feeding the
// index, and the HTTP surface answering queries through the cache.
type app struct {
	cfg    *config.Search
	logger observability.Logger

	bus     *bus.Bus
	handler http.Handler
	checker *health.Checker
	toClose []func() error
}

func newApp(ctx context.Context, cfg *config.Search, logger observability.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		checker: health.NewChecker(),
	}

	idx, respCache, limiterStore, err := a.buildStores()
	if err != nil {
		return nil, err
	}

	proj := projector.New(idx, respCache, cfg.Cache.Prefix, logger)

	b, err := bus.ConnectAMQP(ctx, cfg.Broker, "searchd", logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.bus = b
	a.toClose = append(a.toClose, b.Close)

	b.Subscribe(event.TopicPostCreated, proj.Apply)
	b.Subscribe(event.TopicPostDeleted, proj.Apply)
	a.checker.Register("bus", health.BusCheck(b.Running()))

	svc := search.NewService(idx, respCache, cfg.Cache.Prefix,
		time.Duration(cfg.Cache.TTL), logger)

	limiter := ratelimit.NewTokenBucketLimiter(limiterStore,
		cfg.RateLimit.General.Rate, cfg.RateLimit.General.Burst,
		observability.Zap(logger))
	extractor := middleware.NewClientIPExtractor(cfg.TrustedProxies)

	chain := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.ClientIP(extractor),
		middleware.Logging(logger, "search"),
		middleware.RateLimit(limiter, "general", logger),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/search/posts", chain(search.NewHandler(svc, logger)))
	a.handler = mux

	return a, nil
}

// buildStores picks Redis-backed stores when an address is configured,
// in-process ones otherwise.
func (a *app) buildStores() (index.Store, cache.Cache, store.Store, error) {
	if a.cfg.Redis.Address == "" {
		a.logger.Warn("no redis configured, index and cache are per-instance")
		idx := index.NewMemoryStore()
		respCache := cache.NewMemoryCache()
		limiterStore := store.NewMemoryStore()
		a.toClose = append(a.toClose, idx.Close, respCache.Close, limiterStore.Close)
		return idx, respCache, limiterStore, nil
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
		return nil, nil, nil, fmt.Errorf("searchd: connect to redis at %s: %w", a.cfg.Redis.Address, err)
	}

	zapLogger := observability.Zap(a.logger)
	idx := index.NewRedisStoreWithClient(client, a.cfg.Redis.Prefix+"index:", zapLogger)
	respCache := cache.NewRedisCacheWithClient(client, a.cfg.Redis.Prefix, zapLogger)
	limiterStore := store.NewRedisStoreWithClient(client, a.cfg.Redis.Prefix+"ratelimit:", zapLogger)

	a.checker.Register("redis", health.RedisCheck(client))
	a.toClose = append(a.toClose, client.Close)
	return idx, respCache, limiterStore, nil
}

// run serves HTTP and consumes events until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	defer a.close()

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

	errCh := make(chan error, 3)
	go func() {
		if err := a.bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("event consumer: %w", err)
		}
	}()
	go func() {
		a.logger.Info("searchd listening", observability.String("addr", server.Addr))
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

func (a *app) close() {
	for _, closeFn := range a.toClose {
		_ = closeFn()
	}
	a.toClose = nil
}
