// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package models

import "time"

// QueryRequest carries the parameters of one measurement query.
// It is constructed per call and never persisted.
type QueryRequest struct {
	// SensorIDs restricts the query to these sensors. Empty yields an empty
	// result, not an error.
	SensorIDs []int `json:"sensor_ids"`

	// DeviceMessageIDs optionally restricts results to measurements that
	// originated from these envelope rows.
	DeviceMessageIDs []int64 `json:"device_message_ids,omitempty"`

	// From is the inclusive lower bound (local time).
	From time.Time `json:"from"`

	// To is the inclusive upper bound (local time). Nil means "now".
	To *time.Time `json:"to,omitempty"`

	// LatestOnly selects latest-value mode: one row per (sensor, type)
	// within the lookback window.
	LatestOnly bool `json:"latest_only,omitempty"`
}
