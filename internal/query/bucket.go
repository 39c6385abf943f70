// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package query

import (
	"fmt"
	"time"

	"github.com/telemetron/telemetron/internal/models"
	"github.com/telemetron/telemetron/internal/timezone"
)

// bucketKey identifies one hourly aggregation group. Bucketing is on the
// local timestamp: consumers read charts in wall-clock hours, not UTC hours.
type bucketKey struct {
	sensorID int
	typeID   models.MeasurementType
	year     int
	month    time.Month
	day      int
	hour     int
}

func keyFor(m *models.Measurement) bucketKey {
	ts := m.Timestamp
	return bucketKey{
		sensorID: m.SensorID,
		typeID:   m.TypeID,
		year:     ts.Year(),
		month:    ts.Month(),
		day:      ts.Day(),
		hour:     ts.Hour(),
	}
}

// bucket accumulates raw rows for one (sensor, type, hour) group.
type bucket struct {
	key bucketKey

	sum   float64
	max   float64
	count int

	// maxTimestamp is the latest raw local timestamp seen in the bucket.
	// It becomes the aggregate row's timestamp, so the bucket points at
	// real data rather than a synthetic hour boundary.
	maxTimestamp time.Time
}

func (b *bucket) add(m *models.Measurement) {
	if b.count == 0 || m.Value > b.max {
		b.max = m.Value
	}
	b.sum += m.Value
	b.count++

	if m.Timestamp.After(b.maxTimestamp) {
		b.maxTimestamp = m.Timestamp
	}
}

// reduce collapses the bucket into one measurement. The UTC timestamp is
// re-derived from the local one through the provider; the raw rows' UTC
// values carry transport enqueue times and must not leak into aggregates.
func (b *bucket) reduce(tz timezone.Provider) (models.Measurement, error) {
	if b.count == 0 {
		return models.Measurement{}, fmt.Errorf("empty bucket for sensor %d", b.key.sensorID)
	}

	var value float64
	switch b.key.typeID.Aggregation() {
	case models.AggregateMax:
		value = b.max
	default:
		value = b.sum / float64(b.count)
	}

	return models.Measurement{
		SensorID:     b.key.sensorID,
		TypeID:       b.key.typeID,
		Value:        value,
		Timestamp:    b.maxTimestamp,
		TimestampUTC: tz.ToUTC(b.maxTimestamp),
	}, nil
}

// bucketHourly groups raw rows into hourly buckets per sensor and type.
func bucketHourly(raw []models.Measurement) []*bucket {
	byKey := make(map[bucketKey]*bucket)
	order := make([]*bucket, 0)

	for i := range raw {
		m := &raw[i]
		key := keyFor(m)
		b, ok := byKey[key]
		if !ok {
			b = &bucket{key: key}
			byKey[key] = b
			order = append(order, b)
		}
		b.add(m)
	}

	return order
}
