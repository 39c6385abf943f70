// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package query implements the adaptive measurement query engine. Short
// ranges return raw rows, long ranges return hourly aggregates, and
// latest-value mode returns one row per sensor and type. The switch between
// raw and aggregated is driven by the range span against a configured
// threshold, so response size stays bounded no matter how wide the caller's
// window is.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/telemetron/telemetron/internal/logging"
	"github.com/telemetron/telemetron/internal/metrics"
	"github.com/telemetron/telemetron/internal/models"
	"github.com/telemetron/telemetron/internal/timezone"
)

// ErrStorageUnavailable wraps store failures so callers can distinguish
// infrastructure trouble from bad requests.
var ErrStorageUnavailable = errors.New("measurement storage unavailable")

// Store is the scan surface the engine needs from the measurement store.
type Store interface {
	MeasurementsInRange(ctx context.Context, sensorIDs []int, deviceMessageIDs []int64, from, to time.Time) ([]models.Measurement, error)
	LatestMeasurements(ctx context.Context, sensorIDs []int, since time.Time) ([]models.Measurement, error)
}

// Options tunes the engine's mode selection.
type Options struct {
	// AggregationThresholdDays is the range span above which results are
	// hour-bucketed instead of raw.
	AggregationThresholdDays int

	// LatestLookbackDays bounds how far back latest-value mode searches.
	LatestLookbackDays int
}

// Engine answers measurement queries against a Store, localizing and
// re-deriving timestamps through a timezone Provider.
type Engine struct {
	store Store
	tz    timezone.Provider
	opts  Options
}

// New creates a query engine. Non-positive options fall back to defaults.
func New(store Store, tz timezone.Provider, opts Options) *Engine {
	if opts.AggregationThresholdDays <= 0 {
		opts.AggregationThresholdDays = 10
	}
	if opts.LatestLookbackDays <= 0 {
		opts.LatestLookbackDays = 30
	}
	return &Engine{store: store, tz: tz, opts: opts}
}

// Query executes one measurement query. Mode selection:
//   - LatestOnly: highest-id row per (sensor, type) within the lookback
//     window ending now.
//   - Range span <= threshold: raw rows, timestamp ascending.
//   - Range span > threshold: hourly aggregates, timestamp ascending.
//
// An empty sensor list yields an empty result. A nil To means "now" in the
// target timezone.
func (e *Engine) Query(ctx context.Context, req models.QueryRequest) ([]models.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.SensorIDs) == 0 {
		return []models.Measurement{}, nil
	}

	start := time.Now()

	if req.LatestOnly {
		rows, err := e.queryLatest(ctx, req)
		metrics.ObserveQuery("latest", time.Since(start), err)
		return rows, err
	}

	to := e.tz.Now()
	if req.To != nil {
		to = *req.To
	}

	span := to.Sub(req.From)
	threshold := time.Duration(e.opts.AggregationThresholdDays) * 24 * time.Hour

	if span <= threshold {
		rows, err := e.queryRaw(ctx, req, to)
		metrics.ObserveQuery("raw", time.Since(start), err)
		return rows, err
	}

	rows, err := e.queryAggregated(ctx, req, to)
	metrics.ObserveQuery("aggregated", time.Since(start), err)
	return rows, err
}

func (e *Engine) queryLatest(ctx context.Context, req models.QueryRequest) ([]models.Measurement, error) {
	since := e.tz.Now().AddDate(0, 0, -e.opts.LatestLookbackDays)

	rows, err := e.store.LatestMeasurements(ctx, req.SensorIDs, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return rows, nil
}

func (e *Engine) queryRaw(ctx context.Context, req models.QueryRequest, to time.Time) ([]models.Measurement, error) {
	rows, err := e.store.MeasurementsInRange(ctx, req.SensorIDs, req.DeviceMessageIDs, req.From, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return rows, nil
}

func (e *Engine) queryAggregated(ctx context.Context, req models.QueryRequest, to time.Time) ([]models.Measurement, error) {
	raw, err := e.store.MeasurementsInRange(ctx, req.SensorIDs, req.DeviceMessageIDs, req.From, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	buckets := bucketHourly(raw)

	results := make([]models.Measurement, 0, len(buckets))
	for _, b := range buckets {
		m, err := b.reduce(e.tz)
		if err != nil {
			// A bucket that cannot reduce is a programming error, not data.
			logging.Ctx(ctx).Error().Err(err).Msg("Dropping unreducible bucket")
			continue
		}
		results = append(results, m)
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.Before(results[j].Timestamp)
		}
		if results[i].SensorID != results[j].SensorID {
			return results[i].SensorID < results[j].SensorID
		}
		return results[i].TypeID < results[j].TypeID
	})

	return results, nil
}
