// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/telemetron/telemetron/internal/models"
)

const insertMeasurementQuery = `INSERT INTO measurements
	(sensor_id, type_id, value, ts, ts_utc, device_message_id)
	VALUES (?, ?, ?, ?, ?, ?)`

// AppendMeasurements inserts a batch of measurements in one transaction.
// The store assigns insertion-ordered ids from the measurement sequence.
// The batch is all-or-nothing; callers retry the whole batch on error.
func (db *DB) AppendMeasurements(ctx context.Context, measurements []models.Measurement) error {
	if len(measurements) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertMeasurementQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer closeQuietly(stmt)

	for i := range measurements {
		m := &measurements[i]

		var deviceMessageID sql.NullInt64
		if m.DeviceMessageID != 0 {
			deviceMessageID = sql.NullInt64{Int64: m.DeviceMessageID, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			m.SensorID, int(m.TypeID), m.Value, m.Timestamp, m.TimestampUTC, deviceMessageID,
		); err != nil {
			return fmt.Errorf("failed to insert measurement for sensor %d: %w", m.SensorID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit measurement batch: %w", err)
	}

	return nil
}

// MeasurementsInRange returns raw measurements for the given sensors within
// [from, to] on the local timestamp, inclusive on both ends, ordered by
// local timestamp then id. Empty sensorIDs yields an empty result.
func (db *DB) MeasurementsInRange(ctx context.Context, sensorIDs []int, deviceMessageIDs []int64, from, to time.Time) ([]models.Measurement, error) {
	if len(sensorIDs) == 0 {
		return []models.Measurement{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, sensor_id, type_id, value, ts, ts_utc, COALESCE(device_message_id, 0)
		FROM measurements
		WHERE ts >= ? AND ts <= ?`)

	args := []interface{}{from, to}

	sb.WriteString(" AND sensor_id IN (")
	sb.WriteString(placeholders(len(sensorIDs)))
	sb.WriteString(")")
	for _, id := range sensorIDs {
		args = append(args, id)
	}

	if len(deviceMessageIDs) > 0 {
		sb.WriteString(" AND device_message_id IN (")
		sb.WriteString(placeholders(len(deviceMessageIDs)))
		sb.WriteString(")")
		for _, id := range deviceMessageIDs {
			args = append(args, id)
		}
	}

	sb.WriteString(" ORDER BY ts ASC, id ASC")

	rows, err := db.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer closeQuietly(rows)

	return scanMeasurements(rows)
}

// LatestMeasurements returns, for each (sensor, type) pair present within
// the window starting at since, the row with the highest id. The id is the
// tie-break, not the timestamp, so replays with skewed clocks cannot
// displace newer data.
func (db *DB) LatestMeasurements(ctx context.Context, sensorIDs []int, since time.Time) ([]models.Measurement, error) {
	if len(sensorIDs) == 0 {
		return []models.Measurement{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, sensor_id, type_id, value, ts, ts_utc, COALESCE(device_message_id, 0)
		FROM measurements
		WHERE ts >= ?
		AND sensor_id IN (`)
	sb.WriteString(placeholders(len(sensorIDs)))
	sb.WriteString(`)
		QUALIFY ROW_NUMBER() OVER (PARTITION BY sensor_id, type_id ORDER BY id DESC) = 1
		ORDER BY ts DESC, id DESC`)

	args := make([]interface{}, 0, len(sensorIDs)+1)
	args = append(args, since)
	for _, id := range sensorIDs {
		args = append(args, id)
	}

	rows, err := db.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest measurements: %w", err)
	}
	defer closeQuietly(rows)

	return scanMeasurements(rows)
}

// MeasurementCount returns the total number of stored measurements.
func (db *DB) MeasurementCount(ctx context.Context) (int64, error) {
	var count int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM measurements").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count measurements: %w", err)
	}
	return count, nil
}

func scanMeasurements(rows *sql.Rows) ([]models.Measurement, error) {
	results := []models.Measurement{}
	for rows.Next() {
		var m models.Measurement
		var typeID int
		if err := rows.Scan(&m.ID, &m.SensorID, &typeID, &m.Value, &m.Timestamp, &m.TimestampUTC, &m.DeviceMessageID); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.TypeID = models.MeasurementType(typeID)
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("measurement iteration failed: %w", err)
	}
	return results, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
