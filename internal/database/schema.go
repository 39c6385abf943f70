// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

/*
schema.go - Database Schema Management

Tables:
  - measurements: Raw sensor readings. The id column is assigned from a
    sequence, so it is strictly increasing in insertion order and serves as
    the tie-break when selecting the latest reading per sensor and type.
  - device_messages: One row per ingested envelope, including duplicates
    (flagged, not dropped) for replay diagnostics.
  - devices: Transport device id to stable identifier mapping, maintained
    on ingest.

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements. Versioned
migrations are introduced only once released deployments carry data.

Index Strategy:
  - measurements (sensor_id, type_id, ts): range scans and per-group latest
  - measurements (ts_utc): retention sweeps
  - device_messages (device_id, sequence_number): replay lookups
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSchema creates sequences, tables, and indexes.
func (db *DB) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range schemaQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// schemaQueries returns the schema DDL in execution order. Sequences come
// first because table defaults reference them.
func schemaQueries() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS measurement_id_seq START 1`,
		`CREATE SEQUENCE IF NOT EXISTS device_message_id_seq START 1`,

		`CREATE TABLE IF NOT EXISTS measurements (
			id BIGINT PRIMARY KEY DEFAULT nextval('measurement_id_seq'),
			sensor_id INTEGER NOT NULL,
			type_id INTEGER NOT NULL,
			value DOUBLE NOT NULL,
			ts TIMESTAMP NOT NULL,
			ts_utc TIMESTAMP NOT NULL,
			device_message_id BIGINT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS device_messages (
			id BIGINT PRIMARY KEY DEFAULT nextval('device_message_id_seq'),
			device_id TEXT NOT NULL,
			sequence_number BIGINT NOT NULL,
			first_message BOOLEAN NOT NULL DEFAULT false,
			is_duplicate BOOLEAN NOT NULL DEFAULT false,
			uptime_seconds BIGINT NOT NULL DEFAULT 0,
			loop_count BIGINT NOT NULL DEFAULT 0,
			message_count BIGINT NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			enqueued_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS devices (
			device_id TEXT PRIMARY KEY,
			identifier UUID NOT NULL,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_measurements_sensor_type_ts
			ON measurements (sensor_id, type_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_ts_utc
			ON measurements (ts_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_device_messages_device_seq
			ON device_messages (device_id, sequence_number)`,
	}
}
