// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/telemetron/telemetron/internal/logging"
	"github.com/telemetron/telemetron/internal/metrics"
	"github.com/telemetron/telemetron/internal/models"
)

// DefaultFirstMessageLimit is the max envelope age for which a first-message
// notification is still worth publishing.
const DefaultFirstMessageLimit = 5 * time.Minute

// publishTimeout bounds the detached publish so a wedged broker cannot leak
// goroutines forever.
const publishTimeout = 30 * time.Second

// DeviceDirectory resolves transport device ids to stable identifiers.
type DeviceDirectory interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// NotificationPublisher publishes device notifications to the outbound work
// queue.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, n *models.DeviceNotification) error
}

// FirstMessageTrigger publishes an attribute-sync notification when a
// device's first message after (re)connect arrives fresh enough. Publication
// is at-most-once and fully detached: a slow or failed publish can never
// delay or fail the ingestion that already succeeded.
type FirstMessageTrigger struct {
	devices   DeviceDirectory
	publisher NotificationPublisher
	limit     time.Duration

	// now is swappable for freshness tests.
	now func() time.Time

	wg sync.WaitGroup
}

// NewFirstMessageTrigger creates a trigger. A non-positive limit falls back
// to DefaultFirstMessageLimit.
func NewFirstMessageTrigger(devices DeviceDirectory, publisher NotificationPublisher, limit time.Duration) *FirstMessageTrigger {
	if limit <= 0 {
		limit = DefaultFirstMessageLimit
	}
	return &FirstMessageTrigger{
		devices:   devices,
		publisher: publisher,
		limit:     limit,
		now:       time.Now,
	}
}

// OnIngested inspects one successfully ingested envelope and conditionally
// publishes the notification. Returns immediately; the publish runs on a
// detached goroutine with its own context, because the caller's context dies
// when the batch is acknowledged.
func (t *FirstMessageTrigger) OnIngested(env *Envelope, enqueuedUTC time.Time) {
	if !env.FirstMessage {
		return
	}

	age := t.now().UTC().Sub(enqueuedUTC)
	if age > t.limit {
		metrics.NotificationsSkipped.WithLabelValues("stale").Inc()
		logging.Warn().
			Str("device_id", env.DeviceID).
			Dur("age", age).
			Dur("limit", t.limit).
			Msg("First message too old, skipping notification")
		return
	}

	deviceID := env.DeviceID
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		t.publish(ctx, deviceID)
	}()
}

// publish resolves the device and publishes the notification. Failures are
// logged and counted only; the measurement is already committed and this
// path is best effort by design intent, not oversight.
func (t *FirstMessageTrigger) publish(ctx context.Context, deviceID string) {
	device, err := t.devices.GetDevice(ctx, deviceID)
	if err != nil {
		metrics.NotificationsSkipped.WithLabelValues("unknown_device").Inc()
		logging.Warn().
			Err(err).
			Str("device_id", deviceID).
			Msg("Device resolution failed, notification dropped")
		return
	}

	notification := &models.DeviceNotification{
		DeviceIdentifier: device.Identifier,
		MessageTypeID:    models.NotificationSendDeviceAttributes,
	}

	if err := t.publisher.PublishNotification(ctx, notification); err != nil {
		metrics.NotificationsFailed.Inc()
		logging.Error().
			Err(err).
			Str("device_id", deviceID).
			Msg("Notification publish failed, dropped")
		return
	}

	metrics.NotificationsPublished.Inc()
	logging.Debug().
		Str("device_id", deviceID).
		Str("identifier", device.Identifier.String()).
		Msg("First-message notification published")
}

// Wait blocks until all in-flight publishes complete. Called on shutdown
// and by tests.
func (t *FirstMessageTrigger) Wait() {
	t.wg.Wait()
}
