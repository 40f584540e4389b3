// Package main is the entry point for the search read-service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/socialmesh/edge/internal/config"
	"github.com/socialmesh/edge/internal/observability"
)

var version = "dev"

func main() {
	configPath := flag.String("config", getEnvOrDefault("SEARCH_CONFIG_PATH", "configs/searchd.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("edge-searchd version %s\n", version)
		return
	}

	_ = godotenv.Load()

	cfg, err := config.LoadSearch(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateSearch(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting searchd",
		observability.String("version", version),
		observability.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build searchd", observability.Error(err))
	}

	if err := app.run(ctx); err != nil {
		logger.Fatal("searchd exited with error", observability.Error(err))
	}
	logger.Info("searchd stopped")
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
