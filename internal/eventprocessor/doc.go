// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package eventprocessor connects the ingestion coordinator to the NATS
// JetStream transport via Watermill.
//
// Message flow:
//
//	devices -> JetStream (TELEMETRY stream) -> Subscriber -> Router
//	  -> EnvelopeHandler -> ingest.Coordinator -> measurement store
//
// The Router middleware stack handles retries with exponential backoff,
// panic recovery, and poison-queue routing. Handler errors are classified:
// a PermanentError (malformed payload) goes straight to the poison queue,
// a RetryableError is redelivered.
//
// The Publisher is also the outbound path for first-message device
// notifications, protected by a circuit breaker so a wedged broker fails
// fast instead of piling up goroutines.
package eventprocessor
