// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/telemetron/telemetron/internal/models"
)

// InsertDeviceMessage persists one envelope record and returns its assigned
// id. Duplicates are stored too, flagged via is_duplicate, so replays stay
// visible for diagnostics.
func (db *DB) InsertDeviceMessage(ctx context.Context, msg *models.DeviceMessage) (int64, error) {
	stmt, err := db.getStmt(ctx, `INSERT INTO device_messages
		(device_id, sequence_number, first_message, is_duplicate,
		 uptime_seconds, loop_count, message_count, source, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err != nil {
		return 0, err
	}

	var id int64
	err = stmt.QueryRowContext(ctx,
		msg.DeviceID, msg.SequenceNumber, msg.FirstMessage, msg.IsDuplicate,
		msg.UptimeSeconds, msg.LoopCount, msg.MessageCount, msg.Source, msg.EnqueuedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert device message for %s: %w", msg.DeviceID, err)
	}

	return id, nil
}

// DeviceMessageCount returns the total number of stored envelope records.
func (db *DB) DeviceMessageCount(ctx context.Context) (int64, error) {
	var count int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count device messages: %w", err)
	}
	return count, nil
}

// UpsertDevice records a device sighting. New devices get first_seen set;
// known devices only advance last_seen and refresh the identifier.
func (db *DB) UpsertDevice(ctx context.Context, device *models.Device) error {
	stmt, err := db.getStmt(ctx, `INSERT INTO devices (device_id, identifier, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			identifier = excluded.identifier,
			last_seen = excluded.last_seen`)
	if err != nil {
		return err
	}

	if _, err := stmt.ExecContext(ctx,
		device.DeviceID, device.Identifier.String(), device.FirstSeen, device.LastSeen,
	); err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", device.DeviceID, err)
	}

	return nil
}

// GetDevice returns the device for a transport device id.
// Returns ErrNotFound when the device has never been seen.
func (db *DB) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	stmt, err := db.getStmt(ctx, `SELECT device_id, identifier, first_seen, last_seen
		FROM devices WHERE device_id = ?`)
	if err != nil {
		return nil, err
	}

	device, err := scanDevice(stmt.QueryRowContext(ctx, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}

	return device, nil
}

// ListDevices returns all known devices ordered by transport id.
func (db *DB) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT device_id, identifier, first_seen, last_seen
		FROM devices ORDER BY device_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer closeQuietly(rows)

	devices := []models.Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("device iteration failed: %w", err)
	}

	return devices, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var device models.Device
	var identifier string
	if err := row.Scan(&device.DeviceID, &identifier, &device.FirstSeen, &device.LastSeen); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(identifier)
	if err != nil {
		return nil, fmt.Errorf("stored identifier for %s is not a UUID: %w", device.DeviceID, err)
	}
	device.Identifier = parsed

	return &device, nil
}
