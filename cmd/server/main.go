// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Command server runs the GovSense service: the periodic open-data
// refresh pipeline and the HTTP API over the resulting DuckDB store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/govsense/govsense/internal/api"
	"github.com/govsense/govsense/internal/cache"
	"github.com/govsense/govsense/internal/config"
	"github.com/govsense/govsense/internal/database"
	"github.com/govsense/govsense/internal/ingest"
	"github.com/govsense/govsense/internal/logging"
	"github.com/govsense/govsense/internal/pipeline"
	"github.com/govsense/govsense/internal/registry"
	"github.com/govsense/govsense/internal/supervisor"
	"github.com/govsense/govsense/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Service terminated")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("GovSense starting")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	reg := registry.Default()

	client := ingest.NewClient(ingest.Config{
		BaseURL:       cfg.Ingest.BaseURL,
		Timeout:       cfg.Ingest.Timeout,
		RetryAttempts: cfg.Ingest.RetryAttempts,
		RetryDelay:    cfg.Ingest.RetryDelay,
		RateLimit:     cfg.Ingest.RateLimit,
	})

	queryCache := cache.New(cfg.Cache.TTL)
	defer queryCache.Stop()

	manager := pipeline.NewManager(cfg.Refresh, reg, client, db)
	manager.AddListener(queryCache)

	handler := api.NewHandler(db, queryCache, manager, reg, cfg.API, cfg.Cache)
	middleware := api.NewMiddleware(api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.API.CORSOrigins,
		RateLimitRequests:  cfg.API.RateLimitReqs,
	})
	router := api.NewRouter(handler, middleware, cfg.Server.Timeout)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(services.NewRefreshService(manager))
	tree.AddAPIService(services.NewHTTPService(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		router,
		supervisor.DefaultTreeConfig().ShutdownTimeout,
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("GovSense stopped")
	return nil
}
