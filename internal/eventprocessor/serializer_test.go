// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package eventprocessor

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telemetron/telemetron/internal/ingest"
	"github.com/telemetron/telemetron/internal/models"
)

func validEnvelope() *ingest.Envelope {
	return &ingest.Envelope{
		DeviceID:       "hub-a",
		SequenceNumber: 7,
		FirstMessage:   true,
		Readings: []ingest.Reading{
			{
				SensorID:  42,
				TypeID:    int(models.TypeTemperature),
				Value:     21.5,
				Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestSerializer_EnvelopeRoundTrip(t *testing.T) {
	s := NewSerializer()

	data, err := s.MarshalEnvelope(validEnvelope())
	if err != nil {
		t.Fatalf("MarshalEnvelope() error = %v", err)
	}

	env, err := s.UnmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope() error = %v", err)
	}

	if env.DeviceID != "hub-a" {
		t.Errorf("DeviceID = %q, want hub-a", env.DeviceID)
	}
	if env.SequenceNumber != 7 {
		t.Errorf("SequenceNumber = %d, want 7", env.SequenceNumber)
	}
	if !env.FirstMessage {
		t.Error("FirstMessage = false, want true")
	}
	if len(env.Readings) != 1 {
		t.Fatalf("len(Readings) = %d, want 1", len(env.Readings))
	}
	if env.Readings[0].SensorID != 42 {
		t.Errorf("SensorID = %d, want 42", env.Readings[0].SensorID)
	}
	if env.Readings[0].Value != 21.5 {
		t.Errorf("Value = %v, want 21.5", env.Readings[0].Value)
	}
}

func TestSerializer_MarshalEnvelope_Invalid(t *testing.T) {
	s := NewSerializer()

	env := validEnvelope()
	env.DeviceID = ""

	if _, err := s.MarshalEnvelope(env); err == nil {
		t.Error("MarshalEnvelope() with empty device ID should fail")
	}
}

func TestSerializer_UnmarshalEnvelope(t *testing.T) {
	s := NewSerializer()

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := s.UnmarshalEnvelope([]byte("not json")); err == nil {
			t.Error("UnmarshalEnvelope() should fail on invalid JSON")
		}
	})

	t.Run("valid JSON failing validation", func(t *testing.T) {
		payload := `{"deviceId":"hub-a","sequenceNumber":3,"measurements":[]}`
		if _, err := s.UnmarshalEnvelope([]byte(payload)); err == nil {
			t.Error("UnmarshalEnvelope() should fail when readings are empty")
		}
	})

	t.Run("device payload field names", func(t *testing.T) {
		payload := `{
			"deviceId": "hub-b",
			"sequenceNumber": 12,
			"firstMessage": false,
			"uptime": 3600,
			"measurements": [
				{"sensorId": 9, "typeId": 3, "sensorValue": 1, "timestamp": "2026-03-01T14:30:00+02:00"}
			]
		}`
		env, err := s.UnmarshalEnvelope([]byte(payload))
		if err != nil {
			t.Fatalf("UnmarshalEnvelope() error = %v", err)
		}
		if env.DeviceID != "hub-b" {
			t.Errorf("DeviceID = %q, want hub-b", env.DeviceID)
		}
		if env.UptimeSeconds != 3600 {
			t.Errorf("UptimeSeconds = %d, want 3600", env.UptimeSeconds)
		}
		if env.Readings[0].TypeID != int(models.TypeMotion) {
			t.Errorf("TypeID = %d, want %d", env.Readings[0].TypeID, int(models.TypeMotion))
		}
	})
}

func TestSerializer_MarshalNotification(t *testing.T) {
	s := NewSerializer()

	n := &models.DeviceNotification{
		DeviceIdentifier: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		MessageTypeID:    models.NotificationSendDeviceAttributes,
	}

	data, err := s.MarshalNotification(n)
	if err != nil {
		t.Fatalf("MarshalNotification() error = %v", err)
	}

	payload := string(data)
	if !strings.Contains(payload, "6ba7b810-9dad-11d1-80b4-00c04fd430c8") {
		t.Errorf("payload missing device identifier: %s", payload)
	}
	if !strings.Contains(payload, `"messageTypeId":1`) {
		t.Errorf("payload missing message type: %s", payload)
	}
}
