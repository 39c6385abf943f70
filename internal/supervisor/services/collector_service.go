// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package services

import (
	"context"
	"fmt"
)

// BatchCollector matches the envelope collector's lifecycle. Close drains
// the buffer before returning.
//
// Satisfied by *ingest.Collector.
type BatchCollector interface {
	Start(ctx context.Context) error
	Close() error
}

// CollectorService runs the envelope batch collector under supervision.
// The collector's flush loop stops when the service context is canceled;
// Close then drains whatever is still buffered.
type CollectorService struct {
	collector BatchCollector
	name      string
}

// NewCollectorService creates a collector service wrapper.
func NewCollectorService(collector BatchCollector) *CollectorService {
	return &CollectorService{
		collector: collector,
		name:      "envelope-collector",
	}
}

// Serve implements suture.Service.
func (s *CollectorService) Serve(ctx context.Context) error {
	if err := s.collector.Start(ctx); err != nil {
		return fmt.Errorf("collector start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.collector.Close(); err != nil {
		return fmt.Errorf("collector close failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *CollectorService) String() string {
	return s.name
}
