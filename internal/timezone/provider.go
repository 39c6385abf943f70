// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package timezone converts between the configured local zone and UTC.
//
// Every persisted measurement carries both a local and a UTC timestamp that
// must denote the same instant under the configured zone. All conversions go
// through the Provider interface so that aggregation re-derivation stays
// deterministic in tests (see FixedOffsetProvider).
package timezone

import (
	"fmt"
	"time"
)

// Provider converts timestamps between the target local zone and UTC.
type Provider interface {
	// Location returns the target local zone.
	Location() *time.Location

	// ToLocal converts a UTC instant to the local zone.
	ToLocal(utc time.Time) time.Time

	// ToUTC interprets the wall-clock fields of local in the target zone
	// and returns the corresponding UTC instant.
	ToUTC(local time.Time) time.Time

	// Now returns the current time in the local zone.
	Now() time.Time
}

// ZoneProvider is the production Provider backed by the IANA timezone database.
type ZoneProvider struct {
	loc *time.Location
}

// NewProvider loads the given IANA zone identifier (e.g. "Europe/Berlin").
func NewProvider(zoneID string) (*ZoneProvider, error) {
	loc, err := time.LoadLocation(zoneID)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zoneID, err)
	}
	return &ZoneProvider{loc: loc}, nil
}

// Location returns the target local zone.
func (p *ZoneProvider) Location() *time.Location {
	return p.loc
}

// ToLocal converts a UTC instant to the local zone.
func (p *ZoneProvider) ToLocal(utc time.Time) time.Time {
	return utc.In(p.loc)
}

// ToUTC interprets the wall-clock fields of local in the target zone.
// The zone attached to the input is deliberately ignored: measurement local
// timestamps are stored zone-naive and their meaning is defined by the
// configured zone alone.
func (p *ZoneProvider) ToUTC(local time.Time) time.Time {
	y, m, d := local.Date()
	h, min, sec := local.Clock()
	return time.Date(y, m, d, h, min, sec, local.Nanosecond(), p.loc).UTC()
}

// Now returns the current time in the local zone.
func (p *ZoneProvider) Now() time.Time {
	return time.Now().In(p.loc)
}

// FixedOffsetProvider is a Provider with a constant UTC offset and no DST
// rules. It exists so tests can assert exact local/UTC pairs.
type FixedOffsetProvider struct {
	loc *time.Location
}

// NewFixedOffsetProvider creates a provider with the given offset from UTC.
func NewFixedOffsetProvider(name string, offset time.Duration) *FixedOffsetProvider {
	return &FixedOffsetProvider{loc: time.FixedZone(name, int(offset.Seconds()))}
}

// Location returns the fixed zone.
func (p *FixedOffsetProvider) Location() *time.Location {
	return p.loc
}

// ToLocal converts a UTC instant to the fixed zone.
func (p *FixedOffsetProvider) ToLocal(utc time.Time) time.Time {
	return utc.In(p.loc)
}

// ToUTC interprets the wall-clock fields of local in the fixed zone.
func (p *FixedOffsetProvider) ToUTC(local time.Time) time.Time {
	y, m, d := local.Date()
	h, min, sec := local.Clock()
	return time.Date(y, m, d, h, min, sec, local.Nanosecond(), p.loc).UTC()
}

// Now returns the current time in the fixed zone.
func (p *FixedOffsetProvider) Now() time.Time {
	return time.Now().In(p.loc)
}
