// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/telemetron/telemetron/internal/models"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []models.DeviceNotification
	err       error
}

func (p *fakePublisher) PublishNotification(_ context.Context, n *models.DeviceNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, *n)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *fakePublisher) last() models.DeviceNotification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[len(p.published)-1]
}

func triggerFixture(t *testing.T) (*FirstMessageTrigger, *fakeStore, *fakePublisher) {
	t.Helper()

	store := newFakeStore()
	store.devices["hub-a"] = models.Device{
		DeviceID:   "hub-a",
		Identifier: DeriveIdentifier("hub-a"),
	}

	publisher := &fakePublisher{}
	return NewFirstMessageTrigger(store, publisher, 5*time.Minute), store, publisher
}

func firstMessageEnvelope(deviceID string) *Envelope {
	env := testEnvelope(deviceID, 1, 1)
	env.FirstMessage = true
	return env
}

func TestTrigger_Freshness(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stale envelope publishes nothing", func(t *testing.T) {
		trigger, _, publisher := triggerFixture(t)
		trigger.now = func() time.Time { return now }

		trigger.OnIngested(firstMessageEnvelope("hub-a"), now.Add(-10*time.Minute))
		trigger.Wait()

		if publisher.count() != 0 {
			t.Errorf("Expected 0 notifications for 10m-old envelope, got %d", publisher.count())
		}
	})

	t.Run("fresh envelope publishes exactly one", func(t *testing.T) {
		trigger, _, publisher := triggerFixture(t)
		trigger.now = func() time.Time { return now }

		trigger.OnIngested(firstMessageEnvelope("hub-a"), now.Add(-time.Minute))
		trigger.Wait()

		if publisher.count() != 1 {
			t.Fatalf("Expected exactly 1 notification, got %d", publisher.count())
		}
		n := publisher.last()
		if n.MessageTypeID != models.NotificationSendDeviceAttributes {
			t.Errorf("Expected SendDeviceAttributes, got %d", n.MessageTypeID)
		}
	})

	t.Run("age exactly at the limit still publishes", func(t *testing.T) {
		trigger, _, publisher := triggerFixture(t)
		trigger.now = func() time.Time { return now }

		trigger.OnIngested(firstMessageEnvelope("hub-a"), now.Add(-5*time.Minute))
		trigger.Wait()

		if publisher.count() != 1 {
			t.Errorf("Expected boundary age to publish, got %d", publisher.count())
		}
	})
}

func TestTrigger_NonFirstMessageIgnored(t *testing.T) {
	trigger, _, publisher := triggerFixture(t)

	env := testEnvelope("hub-a", 1, 1) // firstMessage false
	trigger.OnIngested(env, time.Now().UTC())
	trigger.Wait()

	if publisher.count() != 0 {
		t.Errorf("Expected no notification for non-first message, got %d", publisher.count())
	}
}

func TestTrigger_FailuresAreIsolated(t *testing.T) {
	t.Run("unknown device drops notification", func(t *testing.T) {
		trigger, _, publisher := triggerFixture(t)

		trigger.OnIngested(firstMessageEnvelope("never-seen"), time.Now().UTC())
		trigger.Wait()

		if publisher.count() != 0 {
			t.Errorf("Expected 0 notifications for unknown device, got %d", publisher.count())
		}
	})

	t.Run("publish failure does not panic or retry", func(t *testing.T) {
		trigger, _, publisher := triggerFixture(t)
		publisher.err = errors.New("broker down")

		trigger.OnIngested(firstMessageEnvelope("hub-a"), time.Now().UTC())
		trigger.Wait()

		if publisher.count() != 0 {
			t.Errorf("Expected failed publish to record nothing, got %d", publisher.count())
		}
	})
}
