// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package models defines the persisted and query-facing data types shared
// across the ingestion pipeline, the measurement store, and the query engine.
package models

import (
	"time"
)

// MeasurementType is the closed enumeration of supported sensor reading types.
type MeasurementType int

// Measurement type constants. The numeric values are part of the wire and
// storage format and must not be reordered.
const (
	// TypeUndefined marks readings whose type could not be classified.
	TypeUndefined MeasurementType = iota
	// TypeTemperature is ambient temperature in degrees Celsius.
	TypeTemperature
	// TypeHumidity is relative humidity in percent.
	TypeHumidity
	// TypeMotion is a motion detector reading (0 or 1).
	TypeMotion
	// TypeOnline is a connectivity heartbeat reading.
	TypeOnline
	// TypePressure is barometric pressure in hPa.
	TypePressure
	// TypeBattery is battery charge in percent.
	TypeBattery
)

// String returns the human-readable name of the measurement type.
func (t MeasurementType) String() string {
	switch t {
	case TypeTemperature:
		return "temperature"
	case TypeHumidity:
		return "humidity"
	case TypeMotion:
		return "motion"
	case TypeOnline:
		return "online"
	case TypePressure:
		return "pressure"
	case TypeBattery:
		return "battery"
	default:
		return "undefined"
	}
}

// Aggregation selects the reducer applied within an hourly bucket.
type Aggregation int

const (
	// AggregateMean averages all raw values in the bucket.
	AggregateMean Aggregation = iota
	// AggregateMax keeps the maximum raw value in the bucket.
	AggregateMax
)

// aggregationPolicy maps measurement types to their bucket reducer.
// Types absent from the table use AggregateMean.
var aggregationPolicy = map[MeasurementType]Aggregation{
	TypeMotion: AggregateMax,
}

// Aggregation returns the bucket reducer policy for the type.
// Motion events aggregate by max so that any motion within the hour is
// preserved; continuous quantities aggregate by mean.
func (t MeasurementType) Aggregation() Aggregation {
	if agg, ok := aggregationPolicy[t]; ok {
		return agg
	}
	return AggregateMean
}

// Measurement is one persisted sensor reading.
//
// Local and UTC timestamps always denote the same instant under the
// configured target timezone. Rows are immutable once persisted; corrections
// are new rows.
type Measurement struct {
	// ID is a strictly increasing, insertion-ordered surrogate assigned by
	// the store. It is the tie-break for "latest", not the timestamp, to
	// avoid clock-skew ambiguity.
	ID int64 `json:"id"`

	SensorID int             `json:"sensor_id"`
	TypeID   MeasurementType `json:"type_id"`
	Value    float64         `json:"value"`

	// Timestamp is the reading's wall-clock time in the target timezone.
	Timestamp time.Time `json:"timestamp"`
	// TimestampUTC is the same instant in UTC. On ingestion it is overridden
	// with the transport-assigned enqueued time.
	TimestampUTC time.Time `json:"timestamp_utc"`

	// DeviceMessageID is an optional back-reference to the originating
	// envelope row. Zero means no back-reference.
	DeviceMessageID int64 `json:"device_message_id,omitempty"`
}
