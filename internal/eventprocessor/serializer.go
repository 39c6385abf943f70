// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package eventprocessor

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/telemetron/telemetron/internal/ingest"
	"github.com/telemetron/telemetron/internal/models"
)

// Serializer handles envelope and notification encoding for NATS messages.
// Decoding matches field names case-insensitively, which some device
// firmware relies on.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// MarshalEnvelope converts an envelope to JSON bytes, validating first.
func (s *Serializer) MarshalEnvelope(env *ingest.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("validate envelope: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	return data, nil
}

// UnmarshalEnvelope converts JSON bytes to a validated envelope.
func (s *Serializer) UnmarshalEnvelope(data []byte) (*ingest.Envelope, error) {
	var env ingest.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	return &env, nil
}

// MarshalNotification converts a device notification to JSON bytes.
func (s *Serializer) MarshalNotification(n *models.DeviceNotification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return data, nil
}
