// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/telemetron/telemetron/internal/cache"
	"github.com/telemetron/telemetron/internal/config"
	"github.com/telemetron/telemetron/internal/database"
	"github.com/telemetron/telemetron/internal/eventprocessor"
	"github.com/telemetron/telemetron/internal/ingest"
	"github.com/telemetron/telemetron/internal/logging"
	"github.com/telemetron/telemetron/internal/timezone"
)

// PipelineComponents holds the ingestion pipeline for lifecycle management:
// the NATS transport, the Watermill router with the envelope handler, and
// the ingestion chain behind it.
type PipelineComponents struct {
	server             *eventprocessor.EmbeddedServer
	natsConn           *natsgo.Conn
	telemetryStream    *eventprocessor.StreamManager
	notificationStream *eventprocessor.StreamManager
	publisher          *eventprocessor.Publisher
	subscriber         *eventprocessor.Subscriber
	router             *eventprocessor.Router
	handler            *eventprocessor.EnvelopeHandler

	trigger     *ingest.FirstMessageTrigger
	coordinator *ingest.Coordinator
	collector   *ingest.Collector

	mu      sync.Mutex
	running bool
}

// InitPipeline initializes the ingestion pipeline when NATS is enabled.
// Returns (nil, nil) when disabled.
func InitPipeline(cfg *config.Config, db *database.DB, tz timezone.Provider) (*PipelineComponents, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("Ingestion pipeline disabled (NATS_ENABLED=false)")
		return nil, nil
	}

	logging.Info().Msg("Initializing ingestion pipeline...")

	components := &PipelineComponents{}

	var natsURL string

	// Embedded NATS server for single-node deployments.
	if cfg.NATS.EmbeddedServer {
		serverCfg := eventprocessor.DefaultServerConfig(cfg.NATS.StoreDir)
		serverCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		serverCfg.JetStreamMaxStore = cfg.NATS.MaxStore

		srv, err := eventprocessor.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return nil, err
		}
		components.server = srv
		natsURL = srv.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	} else {
		natsURL = cfg.NATS.URL
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	components.natsConn = nc

	// Pre-provision both streams. The subscriber binds rather than
	// auto-provisioning because the telemetry subject is a wildcard.
	ctx := context.Background()

	telemetryCfg := eventprocessor.DefaultTelemetryStreamConfig()
	if cfg.NATS.StreamRetentionDays > 0 {
		telemetryCfg.MaxAge = time.Duration(cfg.NATS.StreamRetentionDays) * 24 * time.Hour
	}
	components.telemetryStream, err = ensureStream(ctx, nc, telemetryCfg)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}

	notificationCfg := eventprocessor.DefaultNotificationStreamConfig()
	components.notificationStream, err = ensureStream(ctx, nc, notificationCfg)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}

	// Outbound path: publisher with circuit breaker, feeding the
	// first-message trigger and the poison queue.
	wmLogger := eventprocessor.NewLoggerAdapter()

	publisher, err := eventprocessor.NewPublisher(
		eventprocessor.DefaultPublisherConfig(natsURL),
		cfg.Telemetry.NotificationTopic,
		wmLogger,
	)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}
	publisher.SetCircuitBreaker(eventprocessor.NewCircuitBreaker(eventprocessor.DefaultCircuitBreakerConfig()))
	components.publisher = publisher

	// Ingestion chain: dedup cache -> coordinator -> optional collector.
	dedup := cache.NewLRUCache(cfg.Telemetry.DedupCapacity, cfg.Telemetry.DedupTTL)
	components.trigger = ingest.NewFirstMessageTrigger(db, publisher, cfg.Telemetry.FirstMessageLimit)
	components.coordinator = ingest.NewCoordinator(db, components.trigger, dedup, tz, "nats")

	var ingester ingest.Ingester = components.coordinator
	if cfg.NATS.BatchSize > 1 {
		collector, err := ingest.NewCollector(components.coordinator, cfg.NATS.BatchSize, cfg.NATS.FlushInterval)
		if err != nil {
			components.Shutdown(context.Background())
			return nil, fmt.Errorf("create collector: %w", err)
		}
		components.collector = collector
		ingester = collector
		logging.Info().
			Int("batch_size", cfg.NATS.BatchSize).
			Dur("flush_interval", cfg.NATS.FlushInterval).
			Msg("Envelope collector created")
	}

	handler, err := eventprocessor.NewEnvelopeHandler(ingester, wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create envelope handler: %w", err)
	}
	components.handler = handler

	// Inbound path: durable queue-group subscriber feeding the router.
	subscriberCfg := eventprocessor.DefaultSubscriberConfig(natsURL)
	subscriberCfg.StreamName = telemetryCfg.Name
	if cfg.NATS.DurableName != "" {
		subscriberCfg.DurableName = cfg.NATS.DurableName
	}
	if cfg.NATS.QueueGroup != "" {
		subscriberCfg.QueueGroup = cfg.NATS.QueueGroup
	}
	if cfg.NATS.SubscribersCount > 0 {
		subscriberCfg.SubscribersCount = cfg.NATS.SubscribersCount
	}

	subscriber, err := eventprocessor.NewSubscriber(&subscriberCfg, wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	components.subscriber = subscriber

	routerCfg := eventprocessor.DefaultRouterConfig()
	if cfg.NATS.RouterRetryCount > 0 {
		routerCfg.RetryMaxRetries = cfg.NATS.RouterRetryCount
	}
	if cfg.NATS.RouterRetryInitialInterval > 0 {
		routerCfg.RetryInitialInterval = cfg.NATS.RouterRetryInitialInterval
		routerCfg.RetryMaxInterval = cfg.NATS.RouterRetryInitialInterval * 10
	}
	if cfg.NATS.RouterCloseTimeout > 0 {
		routerCfg.CloseTimeout = cfg.NATS.RouterCloseTimeout
	}

	var poisonPub message.Publisher
	if cfg.NATS.RouterPoisonQueueEnabled {
		routerCfg.PoisonQueueTopic = cfg.NATS.RouterPoisonQueueTopic
		poisonPub = publisher.WatermillPublisher()
	} else {
		routerCfg.PoisonQueueTopic = ""
	}

	router, err := eventprocessor.NewRouter(&routerCfg, poisonPub, wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create router: %w", err)
	}
	components.router = router

	router.AddConsumerHandler(
		"telemetry-envelopes",
		eventprocessor.TelemetryTopic,
		subscriber.WatermillSubscriber(),
		handler.Handle,
	)

	components.mu.Lock()
	components.running = true
	components.mu.Unlock()

	logging.Info().Msg("Ingestion pipeline initialized")
	return components, nil
}

func ensureStream(ctx context.Context, nc *natsgo.Conn, cfg eventprocessor.StreamConfig) (*eventprocessor.StreamManager, error) {
	manager, err := eventprocessor.NewStreamManager(nc, &cfg)
	if err != nil {
		return nil, fmt.Errorf("create stream manager %s: %w", cfg.Name, err)
	}

	stream, err := manager.EnsureStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}

	info := stream.CachedInfo()
	logging.Info().
		Str("name", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Dur("max_age", info.Config.MaxAge).
		Msg("JetStream stream ready")

	return manager, nil
}

// Start begins message processing. Called by the supervisor after the
// pipeline is constructed.
func (c *PipelineComponents) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}

	if c.router != nil {
		logging.Info().Msg("Starting Watermill router...")
		running := c.router.RunAsync(ctx)
		select {
		case <-running:
			logging.Info().Msg("Watermill router started")
		case <-ctx.Done():
			return fmt.Errorf("context canceled while starting router: %w", ctx.Err())
		}
	}

	return nil
}

// Shutdown stops the pipeline. Order matters: the router stops consuming
// first, the collector drains, then connections close.
func (c *PipelineComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logging.Info().Msg("Shutting down ingestion pipeline...")

	if c.router != nil {
		if err := c.router.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing router")
		}
	}

	if c.collector != nil {
		if err := c.collector.Close(); err != nil {
			logging.Error().Err(err).Msg("Error draining collector")
		}
	}

	if c.trigger != nil {
		c.trigger.Wait()
	}

	if c.subscriber != nil {
		if err := c.subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscriber")
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}

	if c.natsConn != nil {
		c.natsConn.Close()
	}

	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
		}
	}

	logging.Info().Msg("Ingestion pipeline shutdown complete")
}

// IsRunning reports whether the pipeline is active.
func (c *PipelineComponents) IsRunning() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Collector returns the envelope collector, or nil when batching is
// disabled.
func (c *PipelineComponents) Collector() *ingest.Collector {
	if c == nil {
		return nil
	}
	return c.collector
}

// HandlerStats returns envelope handler statistics for the stats endpoint.
func (c *PipelineComponents) HandlerStats() interface{} {
	if c == nil || c.handler == nil {
		return nil
	}
	return c.handler.Stats()
}

// CollectorStats returns collector statistics, or nil when batching is
// disabled.
func (c *PipelineComponents) CollectorStats() interface{} {
	if c == nil || c.collector == nil {
		return nil
	}
	return c.collector.Stats()
}
