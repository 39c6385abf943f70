// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package eventprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/telemetron/telemetron/internal/ingest"
	"github.com/telemetron/telemetron/internal/metrics"
)

type fakeCoordinator struct {
	batches  [][]*ingest.Envelope
	enqueued []time.Time
	result   ingest.Result
}

func (f *fakeCoordinator) Ingest(_ context.Context, batch []*ingest.Envelope, enqueuedUTC time.Time) ingest.Result {
	f.batches = append(f.batches, batch)
	f.enqueued = append(f.enqueued, enqueuedUTC)
	if f.result.Processed == 0 && f.result.Failed == 0 {
		return ingest.Result{Processed: len(batch)}
	}
	return f.result
}

func envelopeMessage(t *testing.T, payload string) *message.Message {
	t.Helper()
	return message.NewMessage(uuid.New().String(), []byte(payload))
}

const validPayload = `{
	"deviceId": "hub-a",
	"sequenceNumber": 4,
	"firstMessage": true,
	"measurements": [
		{"sensorId": 7, "typeId": 1, "sensorValue": 20.5, "timestamp": "2026-03-01T14:30:00+02:00"}
	]
}`

func TestEnvelopeHandler_Handle(t *testing.T) {
	coord := &fakeCoordinator{}
	h, err := NewEnvelopeHandler(coord, nil)
	if err != nil {
		t.Fatalf("NewEnvelopeHandler() error = %v", err)
	}

	enqueued := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	msg := envelopeMessage(t, validPayload)
	msg.Metadata.Set(EnqueuedTimeMetadataKey, enqueued.Format(time.RFC3339Nano))

	if err := h.Handle(msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(coord.batches) != 1 {
		t.Fatalf("coordinator received %d batches, want 1", len(coord.batches))
	}
	if len(coord.batches[0]) != 1 {
		t.Fatalf("batch size = %d, want 1", len(coord.batches[0]))
	}
	if coord.batches[0][0].DeviceID != "hub-a" {
		t.Errorf("DeviceID = %q, want hub-a", coord.batches[0][0].DeviceID)
	}
	if !coord.enqueued[0].Equal(enqueued) {
		t.Errorf("enqueued time = %v, want %v", coord.enqueued[0], enqueued)
	}

	stats := h.Stats()
	if stats.MessagesReceived != 1 || stats.MessagesProcessed != 1 {
		t.Errorf("stats = %+v, want 1 received and 1 processed", stats)
	}
}

func TestEnvelopeHandler_ParseErrorIsPermanent(t *testing.T) {
	coord := &fakeCoordinator{}
	h, err := NewEnvelopeHandler(coord, nil)
	if err != nil {
		t.Fatalf("NewEnvelopeHandler() error = %v", err)
	}

	err = h.Handle(envelopeMessage(t, "{not json"))
	if err == nil {
		t.Fatal("Handle() should fail on malformed JSON")
	}
	if !IsPermanentError(err) {
		t.Errorf("error should be permanent, got %T", err)
	}
	if len(coord.batches) != 0 {
		t.Error("coordinator should not be called for unparseable messages")
	}
	if h.Stats().ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", h.Stats().ParseErrors)
	}
}

func TestEnvelopeHandler_ValidationFailureIsPermanent(t *testing.T) {
	coord := &fakeCoordinator{}
	h, _ := NewEnvelopeHandler(coord, nil)

	err := h.Handle(envelopeMessage(t, `{"deviceId":"","sequenceNumber":1,"measurements":[]}`))
	if err == nil {
		t.Fatal("Handle() should fail on invalid envelope")
	}
	if !IsPermanentError(err) {
		t.Errorf("error should be permanent, got %T", err)
	}
}

func TestEnvelopeHandler_EnqueuedTimeFallback(t *testing.T) {
	t.Run("missing metadata", func(t *testing.T) {
		coord := &fakeCoordinator{}
		h, _ := NewEnvelopeHandler(coord, nil)

		before := time.Now().UTC()
		if err := h.Handle(envelopeMessage(t, validPayload)); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		after := time.Now().UTC()

		got := coord.enqueued[0]
		if got.Before(before) || got.After(after) {
			t.Errorf("enqueued time %v not within [%v, %v]", got, before, after)
		}
	})

	t.Run("malformed metadata", func(t *testing.T) {
		coord := &fakeCoordinator{}
		h, _ := NewEnvelopeHandler(coord, nil)

		msg := envelopeMessage(t, validPayload)
		msg.Metadata.Set(EnqueuedTimeMetadataKey, "yesterday-ish")

		before := time.Now().UTC()
		if err := h.Handle(msg); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		if coord.enqueued[0].Before(before) {
			t.Errorf("enqueued time %v should fall back to receive time", coord.enqueued[0])
		}
	})
}

func TestEnvelopeHandler_PersistFailureStillAcks(t *testing.T) {
	coord := &fakeCoordinator{
		result: ingest.Result{
			Failed: 1,
			Failures: []ingest.Failure{
				{DeviceID: "hub-a", SequenceNumber: 4, Reason: "append failed"},
			},
		},
	}
	h, _ := NewEnvelopeHandler(coord, nil)

	if err := h.Handle(envelopeMessage(t, validPayload)); err != nil {
		t.Fatalf("Handle() should ack despite persist failures, got %v", err)
	}
	if h.Stats().EnvelopesFailed != 1 {
		t.Errorf("EnvelopesFailed = %d, want 1", h.Stats().EnvelopesFailed)
	}
}

func TestEnvelopeHandler_MetricOwnership(t *testing.T) {
	coord := &fakeCoordinator{
		result: ingest.Result{
			Failed: 1,
			Failures: []ingest.Failure{
				{DeviceID: "hub-a", SequenceNumber: 4, Reason: "append failed"},
			},
		},
	}
	h, _ := NewEnvelopeHandler(coord, nil)

	consumedBefore := testutil.ToFloat64(metrics.EnvelopesConsumed)
	processedBefore := testutil.ToFloat64(metrics.EnvelopesProcessed)

	if err := h.Handle(envelopeMessage(t, validPayload)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.EnvelopesConsumed) - consumedBefore; got != 1 {
		t.Errorf("EnvelopesConsumed delta = %v, want 1", got)
	}
	// The ingest layer increments the processed counter per successful
	// envelope; the handler must not add its own count on top, least of
	// all for a failed result.
	if got := testutil.ToFloat64(metrics.EnvelopesProcessed) - processedBefore; got != 0 {
		t.Errorf("EnvelopesProcessed delta = %v, want 0 from the handler", got)
	}
}

func TestNewEnvelopeHandler_RequiresCoordinator(t *testing.T) {
	if _, err := NewEnvelopeHandler(nil, nil); err == nil {
		t.Error("NewEnvelopeHandler(nil) should fail")
	}
}
