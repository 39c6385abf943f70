// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/telemetron/telemetron/internal/database"
	"github.com/telemetron/telemetron/internal/logging"
	"github.com/telemetron/telemetron/internal/models"
	"github.com/telemetron/telemetron/internal/query"
	"github.com/telemetron/telemetron/internal/validation"
)

// MeasurementQuerier answers measurement queries.
type MeasurementQuerier interface {
	Query(ctx context.Context, req models.QueryRequest) ([]models.Measurement, error)
}

// DeviceStore serves the device listing endpoints.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// ReadinessChecker reports whether the storage backend is reachable.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// StatsProvider supplies one named block of runtime statistics for the
// stats endpoint.
type StatsProvider struct {
	Name    string
	Collect func() interface{}
}

// Handlers holds dependencies for the HTTP API handlers.
type Handlers struct {
	engine    MeasurementQuerier
	devices   DeviceStore
	readiness ReadinessChecker
	stats     []StatsProvider
	startTime time.Time
}

// NewHandlers creates the API handler set. Engine and device store are
// required; readiness and stats providers are optional.
func NewHandlers(engine MeasurementQuerier, devices DeviceStore, readiness ReadinessChecker, stats []StatsProvider) (*Handlers, error) {
	if engine == nil {
		return nil, fmt.Errorf("query engine required")
	}
	if devices == nil {
		return nil, fmt.Errorf("device store required")
	}

	return &Handlers{
		engine:    engine,
		devices:   devices,
		readiness: readiness,
		stats:     stats,
		startTime: time.Now(),
	}, nil
}

// Measurements handles GET /api/v1/measurements.
func (h *Handlers) Measurements(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	req, err := ParseMeasurementsRequest(r)
	if err != nil {
		var verr *validation.RequestValidationError
		if errors.As(err, &verr) {
			rw.ValidationError("Invalid query parameters", verr.Details())
			return
		}
		rw.BadRequest(err.Error())
		return
	}

	measurements, err := h.engine.Query(r.Context(), req.ToQueryRequest())
	if err != nil {
		if errors.Is(err, query.ErrStorageUnavailable) {
			logging.Error().Err(err).Msg("Measurement query failed, storage unavailable")
			rw.ServiceUnavailable("Measurement storage is unavailable")
			return
		}
		rw.DatabaseError(err)
		return
	}

	rw.SuccessWithPagination(measurements, &PaginationMeta{
		Count: len(measurements),
	})
}

// Devices handles GET /api/v1/devices.
func (h *Handlers) Devices(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	devices, err := h.devices.ListDevices(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessWithPagination(devices, &PaginationMeta{
		Count: len(devices),
	})
}

// Device handles GET /api/v1/devices/{deviceID}.
func (h *Handlers) Device(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		rw.BadRequest("device id required")
		return
	}

	device, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			rw.NotFound("device not found: " + deviceID)
			return
		}
		rw.DatabaseError(err)
		return
	}

	rw.Success(device)
}

// HealthLive handles GET /api/v1/health/live. Always succeeds while the
// process is serving.
func (h *Handlers) HealthLive(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HealthReady handles GET /api/v1/health/ready. Fails when the storage
// backend is unreachable.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.readiness == nil {
		rw.Success(map[string]string{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.readiness.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Readiness check failed")
		rw.ServiceUnavailable("Storage backend is unreachable")
		return
	}

	rw.Success(map[string]string{"status": "ready"})
}

// Stats handles GET /api/v1/stats. Each registered provider contributes one
// named block.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	blocks := make(map[string]interface{}, len(h.stats)+1)
	blocks["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())

	for _, provider := range h.stats {
		if provider.Collect == nil {
			continue
		}
		blocks[provider.Name] = provider.Collect()
	}

	WriteSuccess(w, r, blocks)
}
