// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/telemetron/telemetron/internal/logging"
)

func TestAPISecurityHeaders(t *testing.T) {
	handler := APISecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("plain http", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))

		if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
		}
		if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
			t.Errorf("X-Frame-Options = %q, want DENY", got)
		}
		if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
			t.Errorf("HSTS should be absent over plain HTTP, got %q", got)
		}
	})

	t.Run("behind tls proxy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/stats", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Strict-Transport-Security"); got == "" {
			t.Error("HSTS should be set behind a TLS proxy")
		}
	})
}

func TestRequestIDWithLogging(t *testing.T) {
	t.Run("generates id", func(t *testing.T) {
		var ctxRequestID string
		handler := RequestIDWithLogging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxRequestID = logging.RequestIDFromContext(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		if ctxRequestID == "" {
			t.Error("request id should be present in the logging context")
		}
	})

	t.Run("honors provided id", func(t *testing.T) {
		var ctxRequestID string
		handler := RequestIDWithLogging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxRequestID = logging.RequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "req-abc-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if ctxRequestID != "req-abc-123" {
			t.Errorf("request id = %q, want req-abc-123", ctxRequestID)
		}
	})
}

func TestRateLimit(t *testing.T) {
	mw := NewChiMiddleware(&ChiMiddlewareConfig{
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
	})

	handler := mw.RateLimit()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastStatus int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rec, req)
		lastStatus = rec.Code
	}

	if lastStatus != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", lastStatus)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	mw := NewChiMiddleware(&ChiMiddlewareConfig{
		RateLimitRequests: 1,
		RateLimitWindow:   time.Minute,
		RateLimitDisabled: true,
	})

	handler := mw.RateLimit()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestStatusResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	ww := &statusResponseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	ww.WriteHeader(http.StatusTeapot)

	if ww.statusCode != http.StatusTeapot {
		t.Errorf("captured status = %d, want 418", ww.statusCode)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("underlying status = %d, want 418", rec.Code)
	}
}
