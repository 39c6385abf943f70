// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package eventprocessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/telemetron/telemetron/internal/ingest"
	"github.com/telemetron/telemetron/internal/models"
)

// Publisher wraps the Watermill NATS publisher with circuit breaker
// protection and reconnection handling. It carries the outbound path for
// first-message device notifications.
type Publisher struct {
	publisher         message.Publisher
	circuitBreaker    *gobreaker.CircuitBreaker[interface{}]
	notificationTopic string
	serializer        *Serializer
	mu                sync.RWMutex
	closed            bool
	logger            watermill.LoggerAdapter
}

// NewPublisher creates a resilient JetStream publisher. Message ID tracking
// lets JetStream drop broker-side duplicates inside the duplicate window.
func NewPublisher(cfg PublisherConfig, notificationTopic string, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // Streams are pre-created by StreamManager
			TrackMsgId:    cfg.EnableTrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{
		publisher:         pub,
		notificationTopic: notificationTopic,
		serializer:        NewSerializer(),
		logger:            logger,
	}, nil
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	p.circuitBreaker = cb
}

// Publish sends a message to the given topic with circuit breaker
// protection. The message UUID doubles as the Nats-Msg-Id for broker-side
// deduplication.
func (p *Publisher) Publish(_ context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	if p.circuitBreaker != nil {
		_, err := p.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
		return err
	}
	return p.publisher.Publish(topic, msg)
}

// PublishNotification serializes and publishes a device notification to the
// outbound work queue. Implements ingest.NotificationPublisher.
func (p *Publisher) PublishNotification(ctx context.Context, n *models.DeviceNotification) error {
	data, err := p.serializer.MarshalNotification(n)
	if err != nil {
		return err
	}

	msg := message.NewMessage(uuid.New().String(), data)
	msg.Metadata.Set("device_identifier", n.DeviceIdentifier.String())

	return p.Publish(ctx, p.notificationTopic, msg)
}

// PublishEnvelope serializes and publishes a telemetry envelope. Used by
// ingestion simulators and tests; production envelopes arrive from devices.
func (p *Publisher) PublishEnvelope(ctx context.Context, env *ingest.Envelope, enqueued time.Time) error {
	data, err := p.serializer.MarshalEnvelope(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(uuid.New().String(), data)
	msg.Metadata.Set(EnqueuedTimeMetadataKey, enqueued.UTC().Format(time.RFC3339Nano))

	return p.Publish(ctx, TelemetryTopic, msg)
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.publisher.Close()
}

// WatermillPublisher returns the underlying Watermill publisher for
// components that need the native interface, such as the poison queue
// middleware.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}
