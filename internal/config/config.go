// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package config holds all application configuration, loaded in three layers
// with Koanf v2: built-in defaults, an optional YAML file, and environment
// variables. Environment variables have the highest precedence.
package config

import (
	"time"
)

// Config is the root configuration for the service. It is immutable after
// Load and safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 8475)
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_TIMEOUT: Read/write timeout (default: 30s)
//   - ENVIRONMENT: "development" or "production"
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings.
//
// Environment Variables:
//   - DUCKDB_PATH: Database file path (default: /data/telemetron.duckdb)
//   - DUCKDB_MAX_MEMORY: DuckDB memory limit (default: 2GB)
//   - DUCKDB_THREADS: Worker threads, 0 means runtime.NumCPU()
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`

	// PreserveInsertionOrder keeps DuckDB's default row ordering. Ingestion
	// relies on insertion-ordered surrogate ids, so this stays on.
	PreserveInsertionOrder bool `koanf:"preserve_insertion_order"`
}

// NATSConfig holds the stream transport settings: JetStream connection,
// consumer identity, batching, and Watermill router middleware tuning.
//
// Environment Variables:
//   - NATS_URL: Server URL (default: nats://127.0.0.1:4222)
//   - NATS_EMBEDDED: Run an embedded nats-server (default: true)
//   - NATS_STORE_DIR: JetStream storage directory
//   - NATS_BATCH_SIZE: Measurement append batch size (default: 500)
//   - NATS_FLUSH_INTERVAL: Max time a partial batch may wait (default: 5s)
//   - NATS_SUBSCRIBERS: Concurrent envelope subscribers (default: 4)
//   - NATS_DURABLE_NAME / NATS_QUEUE_GROUP: Consumer identity
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamRetentionDays int           `koanf:"stream_retention_days"`
	BatchSize           int           `koanf:"batch_size"`
	FlushInterval       time.Duration `koanf:"flush_interval"`
	SubscribersCount    int           `koanf:"subscribers_count"`
	DurableName         string        `koanf:"durable_name"`
	QueueGroup          string        `koanf:"queue_group"`

	// Watermill router middleware.
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterPoisonQueueEnabled   bool          `koanf:"router_poison_queue_enabled"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// TelemetryConfig holds the domain tuning knobs of the ingestion pipeline and
// the query engine.
//
// Environment Variables:
//   - TELEMETRY_TIMEZONE: IANA zone id measurements are localized to
//   - TELEMETRY_AGGREGATION_THRESHOLD_DAYS: Range span (days) above which
//     queries switch from raw rows to hourly aggregation (default: 10)
//   - TELEMETRY_LATEST_LOOKBACK_DAYS: Latest-value search window (default: 30)
//   - TELEMETRY_FIRST_MESSAGE_LIMIT: Max envelope age for first-message
//     notifications (default: 5m)
//   - TELEMETRY_DEDUP_CAPACITY / TELEMETRY_DEDUP_TTL: Replay-detection cache
type TelemetryConfig struct {
	Timezone                 string        `koanf:"timezone"`
	AggregationThresholdDays int           `koanf:"aggregation_threshold_days"`
	LatestLookbackDays       int           `koanf:"latest_lookback_days"`
	FirstMessageLimit        time.Duration `koanf:"first_message_limit"`
	NotificationTopic        string        `koanf:"notification_topic"`
	DedupCapacity            int           `koanf:"dedup_capacity"`
	DedupTTL                 time.Duration `koanf:"dedup_ttl"`
}

// APIConfig holds HTTP API behavior settings.
type APIConfig struct {
	DefaultPageSize   int           `koanf:"default_page_size"`
	MaxPageSize       int           `koanf:"max_page_size"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
