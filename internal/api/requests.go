// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/telemetron/telemetron/internal/models"
	"github.com/telemetron/telemetron/internal/validation"
)

// MeasurementsRequest carries the parsed query parameters of
// GET /api/v1/measurements.
type MeasurementsRequest struct {
	SensorIDs        []int   `validate:"max=500"`
	DeviceMessageIDs []int64 `validate:"max=500"`
	From             time.Time
	To               *time.Time
	Latest           bool
}

// ToQueryRequest converts the request to the engine's query shape.
func (mr *MeasurementsRequest) ToQueryRequest() models.QueryRequest {
	return models.QueryRequest{
		SensorIDs:        mr.SensorIDs,
		DeviceMessageIDs: mr.DeviceMessageIDs,
		From:             mr.From,
		To:               mr.To,
		LatestOnly:       mr.Latest,
	}
}

// ParseMeasurementsRequest parses and validates measurement query parameters.
// Accepted parameters:
//
//	sensor_ids          comma-separated sensor IDs
//	device_message_ids  comma-separated envelope row IDs (optional)
//	from                RFC3339 lower bound (required unless latest=true)
//	to                  RFC3339 upper bound (optional, defaults to now)
//	latest              "true" selects latest-value mode
func ParseMeasurementsRequest(r *http.Request) (*MeasurementsRequest, error) {
	q := r.URL.Query()

	sensorIDs, err := parseCommaSeparatedInts(q.Get("sensor_ids"))
	if err != nil {
		return nil, fmt.Errorf("sensor_ids: %w", err)
	}

	deviceMessageIDs, err := parseCommaSeparatedInt64s(q.Get("device_message_ids"))
	if err != nil {
		return nil, fmt.Errorf("device_message_ids: %w", err)
	}

	latest, err := parseBoolParam(q.Get("latest"))
	if err != nil {
		return nil, fmt.Errorf("latest: %w", err)
	}

	req := &MeasurementsRequest{
		SensorIDs:        sensorIDs,
		DeviceMessageIDs: deviceMessageIDs,
		Latest:           latest,
	}

	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("from: must be RFC3339, got %q", raw)
		}
		req.From = from
	} else if !latest {
		return nil, fmt.Errorf("from: required for range queries")
	}

	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("to: must be RFC3339, got %q", raw)
		}
		req.To = &to
	}

	if req.To != nil && req.To.Before(req.From) {
		return nil, fmt.Errorf("to: must not precede from")
	}

	if verr := validation.ValidateStruct(req); verr != nil {
		return nil, verr
	}

	return req, nil
}

// parseCommaSeparatedInts parses "1,2,3" into []int. Empty input yields nil.
func parseCommaSeparatedInts(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseCommaSeparatedInt64s parses "1,2,3" into []int64. Empty input yields
// nil.
func parseCommaSeparatedInt64s(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseBoolParam parses an optional boolean query parameter. Empty input is
// false.
func parseBoolParam(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("must be true or false, got %q", raw)
	}
	return v, nil
}
