// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package main is the entry point for the Telemetron server.
//
// Telemetron ingests batched environmental-sensor telemetry from NATS
// JetStream, persists measurements in DuckDB, and serves range and
// aggregate queries over HTTP.
//
// Components initialize in dependency order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, environment)
//  2. Logging: zerolog global logger
//  3. Timezone provider: localizes measurement timestamps
//  4. Database: DuckDB measurement store
//  5. Query engine: latest / raw / hour-aggregated measurement queries
//  6. Ingestion pipeline (optional): embedded or external NATS, JetStream
//     streams, Watermill router with the envelope handler
//  7. HTTP API: chi router with measurement and device endpoints
//  8. Supervisor: suture tree running the pipeline and the HTTP server
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the router stops
// consuming, buffered envelopes drain to DuckDB, in-flight HTTP requests
// finish, and the database is checkpointed before close.
//
// # Example Usage
//
// Single-node deployment with the embedded NATS server:
//
//	export NATS_EMBEDDED=true
//	export NATS_STORE_DIR=/data/jetstream
//	export DUCKDB_PATH=/data/telemetron.duckdb
//	export TELEMETRY_TIMEZONE=Europe/Kyiv
//	./telemetron
//
// Against an external broker:
//
//	export NATS_EMBEDDED=false
//	export NATS_URL=nats://broker:4222
//	./telemetron
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telemetron/telemetron/internal/api"
	"github.com/telemetron/telemetron/internal/config"
	"github.com/telemetron/telemetron/internal/database"
	"github.com/telemetron/telemetron/internal/logging"
	"github.com/telemetron/telemetron/internal/query"
	"github.com/telemetron/telemetron/internal/supervisor"
	"github.com/telemetron/telemetron/internal/supervisor/services"
	"github.com/telemetron/telemetron/internal/timezone"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server failed")
		os.Exit(1)
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

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("timezone", cfg.Telemetry.Timezone).
		Msg("Telemetron starting")

	tz, err := timezone.NewProvider(cfg.Telemetry.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Telemetry.Timezone, err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeDatabase(db)

	engine := query.New(db, tz, query.Options{
		AggregationThresholdDays: cfg.Telemetry.AggregationThresholdDays,
		LatestLookbackDays:       cfg.Telemetry.LatestLookbackDays,
	})

	pipeline, err := InitPipeline(cfg, db, tz)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	handlers, err := api.NewHandlers(engine, db, db, statsProviders(pipeline))
	if err != nil {
		return fmt.Errorf("create API handlers: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg.API, handlers).Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if pipeline != nil {
		tree.AddMessagingService(services.NewPipelineService(pipeline, cfg.NATS.RouterCloseTimeout))
		if collector := pipeline.Collector(); collector != nil {
			tree.AddMessagingService(services.NewCollectorService(collector))
		}
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", httpServer.Addr).
		Bool("pipeline", pipeline != nil).
		Msg("Telemetron ready")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	logging.Info().Msg("Telemetron stopped")
	return nil
}

// statsProviders assembles the runtime statistic blocks exposed at
// /api/v1/stats.
func statsProviders(pipeline *PipelineComponents) []api.StatsProvider {
	if pipeline == nil {
		return nil
	}

	providers := []api.StatsProvider{
		{Name: "handler", Collect: pipeline.HandlerStats},
	}
	if pipeline.Collector() != nil {
		providers = append(providers, api.StatsProvider{Name: "collector", Collect: pipeline.CollectorStats})
	}
	return providers
}

// closeDatabase checkpoints and closes the store. A failed checkpoint
// costs recovery time on next start, not data.
func closeDatabase(db *database.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Database checkpoint failed")
	}
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("Database close failed")
	}
}
