// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telemetron/telemetron/internal/cache"
	"github.com/telemetron/telemetron/internal/logging"
	"github.com/telemetron/telemetron/internal/metrics"
	"github.com/telemetron/telemetron/internal/models"
	"github.com/telemetron/telemetron/internal/timezone"
)

// deviceNamespace seeds the deterministic device identifier derivation.
// Changing it changes every derived identifier, so it is fixed forever.
var deviceNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Store is the write surface the coordinator needs from the measurement
// store.
type Store interface {
	AppendMeasurements(ctx context.Context, measurements []models.Measurement) error
	InsertDeviceMessage(ctx context.Context, msg *models.DeviceMessage) (int64, error)
	UpsertDevice(ctx context.Context, device *models.Device) error
}

// Failure records one envelope that could not be persisted.
type Failure struct {
	DeviceID       string `json:"device_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Reason         string `json:"reason"`
}

// Result summarizes one batch. Persistence failures are surfaced here, not
// thrown; no error escapes the batch boundary.
type Result struct {
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Duplicates int       `json:"duplicates"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Coordinator processes envelope batches. Envelopes within a batch run
// sequentially; batches may run concurrently across pipeline instances.
type Coordinator struct {
	store   Store
	trigger *FirstMessageTrigger
	dedup   *cache.LRUCache
	tz      timezone.Provider
	source  string
}

// NewCoordinator creates a batch coordinator. tz defines the zone reading
// local timestamps are normalized to. The trigger may be nil when
// first-message notifications are disabled.
func NewCoordinator(store Store, trigger *FirstMessageTrigger, dedup *cache.LRUCache, tz timezone.Provider, source string) *Coordinator {
	return &Coordinator{
		store:   store,
		trigger: trigger,
		dedup:   dedup,
		tz:      tz,
		source:  source,
	}
}

// Ingest processes one batch. enqueuedUTC is the transport-assigned enqueue
// time for the batch; it overrides every reading's UTC timestamp.
//
// Failure isolation: one envelope's persistence failure is recorded in the
// result and processing continues with the next envelope. Trigger failures
// never affect the already-committed measurement.
func (c *Coordinator) Ingest(ctx context.Context, batch []*Envelope, enqueuedUTC time.Time) Result {
	result := Result{}
	log := logging.Ctx(ctx)

	for _, env := range batch {
		if err := c.ingestOne(ctx, env, enqueuedUTC); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, Failure{
				DeviceID:       env.DeviceID,
				SequenceNumber: env.SequenceNumber,
				Reason:         err.Error(),
			})
			metrics.EnvelopesFailed.WithLabelValues("persist").Inc()
			log.Error().
				Err(err).
				Str("device_id", env.DeviceID).
				Int64("sequence_number", env.SequenceNumber).
				Msg("Envelope persistence failed, continuing with batch")
			continue
		}

		if env.IsDuplicate {
			result.Duplicates++
			metrics.EnvelopesDuplicate.Inc()
			continue
		}

		result.Processed++
		metrics.EnvelopesProcessed.Inc()

		if c.trigger != nil {
			c.trigger.OnIngested(env, enqueuedUTC)
		}
	}

	log.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Int("duplicates", result.Duplicates).
		Msg("Batch ingested")

	return result
}

// ingestOne persists one envelope as a unit of work: the envelope record,
// its readings, and the device sighting. Duplicate envelopes get their
// record stored (flagged) but no measurements.
func (c *Coordinator) ingestOne(ctx context.Context, env *Envelope, enqueuedUTC time.Time) error {
	env.IsDuplicate = c.dedup != nil && c.dedup.IsDuplicate(cache.DedupKey(env.DeviceID, env.SequenceNumber))

	msg := &models.DeviceMessage{
		DeviceID:       env.DeviceID,
		SequenceNumber: env.SequenceNumber,
		FirstMessage:   env.FirstMessage,
		IsDuplicate:    env.IsDuplicate,
		UptimeSeconds:  env.UptimeSeconds,
		LoopCount:      env.LoopCount,
		MessageCount:   env.MessageCount,
		Source:         c.source,
		EnqueuedAt:     enqueuedUTC,
	}

	deviceMessageID, err := c.store.InsertDeviceMessage(ctx, msg)
	if err != nil {
		return err
	}

	if !env.IsDuplicate {
		start := time.Now()
		measurements := env.ToMeasurements(c.tz, enqueuedUTC, deviceMessageID)
		err := c.store.AppendMeasurements(ctx, measurements)
		metrics.DBAppendDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DBErrors.WithLabelValues("append_measurements").Inc()
			return err
		}
		metrics.MeasurementsAppended.Add(float64(len(measurements)))
	}

	// The device sighting is best effort. Losing it costs a stale last_seen,
	// not telemetry.
	device := &models.Device{
		DeviceID:   env.DeviceID,
		Identifier: DeriveIdentifier(env.DeviceID),
		FirstSeen:  enqueuedUTC,
		LastSeen:   enqueuedUTC,
	}
	if err := c.store.UpsertDevice(ctx, device); err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("device_id", env.DeviceID).
			Msg("Device sighting upsert failed")
	}

	return nil
}

// DeriveIdentifier returns the stable identifier for a transport device id.
// Identifiers are UUIDv5 over a fixed namespace, so every pipeline instance
// derives the same identifier without coordination.
func DeriveIdentifier(deviceID string) uuid.UUID {
	return uuid.NewSHA1(deviceNamespace, []byte(deviceID))
}
