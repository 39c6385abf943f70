// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package eventprocessor

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		want     string
	}{
		{ErrorCategoryUnknown, "unknown"},
		{ErrorCategoryConnection, "connection"},
		{ErrorCategoryTimeout, "timeout"},
		{ErrorCategoryValidation, "validation"},
		{ErrorCategoryDatabase, "database"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRetryableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRetryableError("publish to broker failed: connection refused", cause)

	if !IsRetryableError(err) {
		t.Error("IsRetryableError() = false, want true")
	}
	if IsPermanentError(err) {
		t.Error("IsPermanentError() = true, want false")
	}
	if err.Category != ErrorCategoryConnection {
		t.Errorf("Category = %v, want connection", err.Category)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause")
	}
}

func TestPermanentError(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := NewPermanentError("envelope parse error", cause)

	if !IsPermanentError(err) {
		t.Error("IsPermanentError() = false, want true")
	}
	if IsRetryableError(err) {
		t.Error("IsRetryableError() = true, want false")
	}
	if err.Category != ErrorCategoryValidation {
		t.Errorf("Category = %v, want validation", err.Category)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause")
	}
}

func TestPermanentError_UnknownDefaultsToValidation(t *testing.T) {
	err := NewPermanentError("something odd happened", nil)
	if err.Category != ErrorCategoryValidation {
		t.Errorf("Category = %v, want validation", err.Category)
	}
}

func TestIsErrorHelpers_Wrapped(t *testing.T) {
	inner := NewRetryableError("database query failed", errors.New("duckdb busy"))
	wrapped := fmt.Errorf("ingest envelope: %w", inner)

	if !IsRetryableError(wrapped) {
		t.Error("IsRetryableError() should unwrap")
	}
	if inner.Category != ErrorCategoryDatabase {
		t.Errorf("Category = %v, want database", inner.Category)
	}
}

func TestCategorizeErrorMessage(t *testing.T) {
	tests := []struct {
		message string
		want    ErrorCategory
	}{
		{"network unreachable", ErrorCategoryConnection},
		{"context deadline exceeded", ErrorCategoryTimeout},
		{"malformed payload", ErrorCategoryValidation},
		{"sql prepare failed", ErrorCategoryDatabase},
		{"mysterious failure", ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := categorizeErrorMessage(tt.message); got != tt.want {
				t.Errorf("categorizeErrorMessage(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}
