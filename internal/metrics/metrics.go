// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline, the measurement store, the query engine, and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion Pipeline Metrics
	EnvelopesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_envelopes_consumed_total",
			Help: "Total number of envelopes consumed from the stream transport",
		},
	)

	EnvelopesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_envelopes_processed_total",
			Help: "Total number of envelopes fully processed",
		},
	)

	EnvelopesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_envelopes_failed_total",
			Help: "Total number of envelopes that failed processing",
		},
		[]string{"reason"}, // "parse", "persist", "validation"
	)

	EnvelopesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_envelopes_duplicate_total",
			Help: "Total number of duplicate envelopes detected",
		},
	)

	MeasurementsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_measurements_appended_total",
			Help: "Total number of measurements appended to the store",
		},
	)

	// Batch Flush Metrics
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_flush_duration_seconds",
			Help:    "Duration of measurement batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_flush_batch_size",
			Help:    "Number of measurements per flushed batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500},
		},
	)

	FlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_flush_errors_total",
			Help: "Total number of failed batch flushes",
		},
	)

	// First-Message Notification Metrics
	NotificationsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_notifications_published_total",
			Help: "Total number of first-message notifications published",
		},
	)

	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_notifications_skipped_total",
			Help: "Total number of first-message notifications skipped",
		},
		[]string{"reason"}, // "stale", "unknown_device"
	)

	NotificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_notifications_failed_total",
			Help: "Total number of first-message notification publish failures",
		},
	)

	// Query Engine Metrics
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_query_duration_seconds",
			Help:    "Duration of measurement queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "success"}, // mode: "latest", "raw", "aggregated"
	)

	// Database Metrics
	DBAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckdb_append_duration_seconds",
			Help:    "Duration of DuckDB measurement appends in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_errors_total",
			Help: "Total number of DuckDB operation errors",
		},
		[]string{"operation"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Dedup Cache Metrics
	DedupCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_dedup_cache_entries",
			Help: "Current number of entries in the dedup cache",
		},
	)
)

// ObserveQuery records one query engine execution.
func ObserveQuery(mode string, duration time.Duration, err error) {
	QueryDuration.WithLabelValues(mode, strconv.FormatBool(err == nil)).Observe(duration.Seconds())
}

// ObserveAPIRequest records one HTTP API request.
func ObserveAPIRequest(method, path string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveFlush records one measurement batch flush.
func ObserveFlush(size int, duration time.Duration, err error) {
	FlushDuration.Observe(duration.Seconds())
	FlushBatchSize.Observe(float64(size))
	if err != nil {
		FlushErrors.Inc()
	}
}
