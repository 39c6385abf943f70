// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package models

import (
	"time"

	"github.com/google/uuid"
)

// Device maps a transport-level device id to its stable identifier.
// The identifier is what downstream consumers key on; the transport id is
// whatever the device authenticates as on the broker.
type Device struct {
	DeviceID   string    `json:"device_id"`
	Identifier uuid.UUID `json:"identifier"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// DeviceMessage is the persisted record of one ingested envelope.
type DeviceMessage struct {
	ID             int64     `json:"id"`
	DeviceID       string    `json:"device_id"`
	SequenceNumber int64     `json:"sequence_number"`
	FirstMessage   bool      `json:"first_message"`
	IsDuplicate    bool      `json:"is_duplicate"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	LoopCount      int64     `json:"loop_count"`
	MessageCount   int64     `json:"message_count"`
	Source         string    `json:"source"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotificationType identifies the downstream notification message kind.
type NotificationType int

// NotificationSendDeviceAttributes asks the device manager to push the
// device's attribute set. Published when a device's first message after
// (re)connect is ingested.
const NotificationSendDeviceAttributes NotificationType = 1

// DeviceNotification is the outbound work-queue message published by the
// first-message trigger. Field names are part of the queue contract.
type DeviceNotification struct {
	DeviceIdentifier uuid.UUID        `json:"deviceIdentifier"`
	MessageTypeID    NotificationType `json:"messageTypeId"`
}
