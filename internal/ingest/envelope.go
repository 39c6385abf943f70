// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package ingest implements the telemetry ingestion coordinator: it takes
// batches of deserialized envelopes, stamps authoritative timestamps,
// persists readings with per-envelope failure isolation, and hands
// successfully ingested envelopes to the first-message trigger.
package ingest

import (
	"fmt"
	"time"

	"github.com/telemetron/telemetron/internal/models"
	"github.com/telemetron/telemetron/internal/timezone"
)

// Envelope is one inbound batch unit of telemetry from the stream transport.
// Field names are part of the wire contract; decoding is case-insensitive.
// An envelope is immutable once deserialized, except for the IsDuplicate
// flag which the pipeline sets during dedup.
type Envelope struct {
	DeviceID       string    `json:"deviceId"`
	Readings       []Reading `json:"measurements"`
	FirstMessage   bool      `json:"firstMessage"`
	SequenceNumber int64     `json:"sequenceNumber"`

	// Diagnostic counters reported by the device.
	UptimeSeconds int64 `json:"uptime,omitempty"`
	LoopCount     int64 `json:"loopCount,omitempty"`
	MessageCount  int64 `json:"messageCount,omitempty"`

	// IsDuplicate is set by the pipeline when the (device, sequence) pair
	// was already seen. Not part of the wire format.
	IsDuplicate bool `json:"-"`
}

// Reading is a single raw sensor tuple inside an envelope, prior to
// persistence.
type Reading struct {
	SensorID int     `json:"sensorId"`
	Value    float64 `json:"sensorValue"`
	TypeID   int     `json:"typeId"`

	// Timestamp is the device's clock reading. The wire value carries the
	// device's own RFC3339 offset; ingestion normalizes it to the configured
	// zone's wall clock before persistence.
	Timestamp time.Time `json:"timestamp"`
	// TimestampUTC is self-reported and not trusted for ordering. Ingestion
	// replaces it with the transport's enqueued time.
	TimestampUTC time.Time `json:"timestampUtc"`
}

// ValidationError describes a single invalid envelope field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("envelope validation failed: %s: %s", e.Field, e.Message)
}

// Validate checks required fields and returns an error if validation fails.
func (e *Envelope) Validate() error {
	if e.DeviceID == "" {
		return &ValidationError{Field: "deviceId", Message: "required"}
	}
	if e.SequenceNumber < 0 {
		return &ValidationError{Field: "sequenceNumber", Message: "must not be negative"}
	}
	if len(e.Readings) == 0 {
		return &ValidationError{Field: "measurements", Message: "must not be empty"}
	}
	for i, r := range e.Readings {
		if r.SensorID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("measurements[%d].sensorId", i), Message: "must be positive"}
		}
		if r.Timestamp.IsZero() {
			return &ValidationError{Field: fmt.Sprintf("measurements[%d].timestamp", i), Message: "required"}
		}
	}
	return nil
}

// ToMeasurements converts the envelope's readings to store rows. Every UTC
// timestamp is overridden with the transport-assigned enqueued time; the
// self-reported one only orders samples within the device's own clock.
// Local timestamps are normalized to the configured zone's wall clock.
func (e *Envelope) ToMeasurements(tz timezone.Provider, enqueuedUTC time.Time, deviceMessageID int64) []models.Measurement {
	out := make([]models.Measurement, 0, len(e.Readings))
	for _, r := range e.Readings {
		out = append(out, models.Measurement{
			SensorID:        r.SensorID,
			TypeID:          models.MeasurementType(r.TypeID),
			Value:           r.Value,
			Timestamp:       wallClock(tz, r.Timestamp),
			TimestampUTC:    enqueuedUTC,
			DeviceMessageID: deviceMessageID,
		})
	}
	return out
}

// wallClock converts ts to the configured zone and re-labels its clock
// fields as UTC. Stored local timestamps are zone-naive: the store binds
// timestamps as absolute instants and scans them back in UTC, so only a
// zone-naive value keeps its wall clock through the round-trip.
func wallClock(tz timezone.Provider, ts time.Time) time.Time {
	local := tz.ToLocal(ts)
	y, m, d := local.Date()
	h, min, sec := local.Clock()
	return time.Date(y, m, d, h, min, sec, local.Nanosecond(), time.UTC)
}
