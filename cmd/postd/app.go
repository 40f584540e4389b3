package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/socialmesh/edge/internal/bus"
	"github.com/socialmesh/edge/internal/config"
	"github.com/socialmesh/edge/internal/health"
	"github.com/socialmesh/edge/internal/metrics"
	"github.com/socialmesh/edge/internal/middleware"
	"github.com/socialmesh/edge/internal/observability"
	"github.com/socialmesh/edge/internal/producer"
)

type app struct {
	cfg    *config.Post
	logger observability.Logger

	bus     *bus.Bus
	handler http.Handler
	checker *health.Checker
}

func newApp(ctx context.Context, cfg *config.Post, logger observability.Logger) (*app, error) {
	b, err := bus.ConnectAMQP(ctx, cfg.Broker, "postd", logger)
	if err != nil {
		return nil, err
	}

	handler := newPostHandler(producer.New(b, logger), logger)

	chain := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger, "posts"),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/posts", chain(handler))
	mux.Handle("/api/posts/", chain(handler))

	return &app{
		cfg:     cfg,
		logger:  logger,
		bus:     b,
		handler: mux,
		checker: health.NewChecker(),
	}, nil
}

func (a *app) run(ctx context.Context) error {
	defer func() { _ = a.bus.Close() }()

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
		a.logger.Info("postd listening", observability.String("addr", server.Addr))
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
	if firstErr != nil {
		return fmt.Errorf("postd shutdown: %w", firstErr)
	}
	return nil
}
