// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package eventprocessor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/telemetron/telemetron/internal/ingest"
	"github.com/telemetron/telemetron/internal/metrics"
)

// IngestCoordinator persists telemetry envelopes. Satisfied by
// *ingest.Coordinator.
type IngestCoordinator interface {
	Ingest(ctx context.Context, batch []*ingest.Envelope, enqueuedUTC time.Time) ingest.Result
}

// EnvelopeHandler processes telemetry envelope messages from the transport.
// It works under the Router's middleware stack: Recoverer handles panics,
// Retry handles transient failures, PoisonQueue routes permanent failures.
//
// Error handling:
//   - Parse and validation errors return PermanentError (no retry, to DLQ)
//   - Persistence failures inside an envelope are recorded per envelope and
//     the message is still acknowledged, so one bad envelope never blocks
//     the stream
type EnvelopeHandler struct {
	coordinator IngestCoordinator
	serializer  *Serializer
	logger      watermill.LoggerAdapter

	messagesReceived  atomic.Int64
	messagesProcessed atomic.Int64
	envelopesFailed   atomic.Int64
	parseErrors       atomic.Int64
	lastMessageTime   atomic.Value // stores time.Time
}

// NewEnvelopeHandler creates a handler that feeds parsed envelopes to the
// ingestion coordinator.
func NewEnvelopeHandler(coordinator IngestCoordinator, logger watermill.LoggerAdapter) (*EnvelopeHandler, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator required")
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	h := &EnvelopeHandler{
		coordinator: coordinator,
		serializer:  NewSerializer(),
		logger:      logger,
	}
	h.lastMessageTime.Store(time.Time{})

	return h, nil
}

// Handle processes a single envelope message. This is the function passed
// to Router.AddConsumerHandler.
func (h *EnvelopeHandler) Handle(msg *message.Message) error {
	startTime := time.Now()
	h.messagesReceived.Add(1)
	h.lastMessageTime.Store(startTime)
	metrics.EnvelopesConsumed.Inc()

	env, err := h.serializer.UnmarshalEnvelope(msg.Payload)
	if err != nil {
		h.parseErrors.Add(1)
		metrics.EnvelopesFailed.WithLabelValues("parse").Inc()
		h.logger.Error("Failed to parse envelope", err, watermill.LogFields{
			"message_uuid": msg.UUID,
		})
		// No point retrying malformed payloads
		return NewPermanentError("envelope parse error", err)
	}

	enqueuedUTC := h.enqueuedTime(msg, startTime)

	ctx := context.Background()
	if msgCtx := msg.Context(); msgCtx != nil {
		ctx = msgCtx
	}

	result := h.coordinator.Ingest(ctx, []*ingest.Envelope{env}, enqueuedUTC)
	if result.Failed > 0 {
		h.envelopesFailed.Add(int64(result.Failed))
		for _, f := range result.Failures {
			h.logger.Error("Envelope persistence failed", nil, watermill.LogFields{
				"device_id":       f.DeviceID,
				"sequence_number": f.SequenceNumber,
				"reason":          f.Reason,
			})
		}
	}

	// The ingest layer owns the processed counter: it alone can tell
	// successful envelopes from failures and duplicates.
	h.messagesProcessed.Add(1)

	// Persistence failures are already recorded per envelope; the message
	// is acknowledged so a poisoned reading cannot stall the consumer.
	return nil
}

// enqueuedTime extracts the transport-assigned enqueue time from message
// metadata, falling back to the receive time when absent or malformed.
func (h *EnvelopeHandler) enqueuedTime(msg *message.Message, received time.Time) time.Time {
	raw := msg.Metadata.Get(EnqueuedTimeMetadataKey)
	if raw == "" {
		return received.UTC()
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		h.logger.Debug("Invalid enqueued time metadata", watermill.LogFields{
			"message_uuid": msg.UUID,
			"value":        raw,
		})
		return received.UTC()
	}

	return t.UTC()
}

// Stats returns current handler statistics.
func (h *EnvelopeHandler) Stats() EnvelopeHandlerStats {
	var lastTime time.Time
	if t, ok := h.lastMessageTime.Load().(time.Time); ok {
		lastTime = t
	}

	return EnvelopeHandlerStats{
		MessagesReceived:  h.messagesReceived.Load(),
		MessagesProcessed: h.messagesProcessed.Load(),
		EnvelopesFailed:   h.envelopesFailed.Load(),
		ParseErrors:       h.parseErrors.Load(),
		LastMessageTime:   lastTime,
	}
}

// EnvelopeHandlerStats holds runtime statistics.
type EnvelopeHandlerStats struct {
	MessagesReceived  int64
	MessagesProcessed int64
	EnvelopesFailed   int64
	ParseErrors       int64
	LastMessageTime   time.Time
}
