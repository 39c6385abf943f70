// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telemetron/telemetron/internal/logging"
	"github.com/telemetron/telemetron/internal/metrics"
)

// flushTimeout bounds a single flush. Flushes run on detached contexts so a
// canceled message context cannot abort a write already in progress.
const flushTimeout = 30 * time.Second

// Ingester is the shared ingestion surface of Coordinator and Collector.
type Ingester interface {
	Ingest(ctx context.Context, batch []*Envelope, enqueuedUTC time.Time) Result
}

// collectorEntry pairs an envelope with its transport enqueue time. The
// time travels with the envelope because entries from different deliveries
// share one buffer.
type collectorEntry struct {
	env         *Envelope
	enqueuedUTC time.Time
}

// CollectorStats holds runtime statistics for monitoring.
type CollectorStats struct {
	EnvelopesReceived int64
	EnvelopesFlushed  int64
	FlushCount        int64
	ErrorCount        int64
	LastFlushTime     time.Time
	BufferSize        int
}

// Collector buffers envelopes and flushes them to the coordinator in
// batches, either when the batch size is reached or the flush interval
// elapses. Ingest returns as soon as the envelopes are buffered; delivery
// is fire and forget, persistence outcomes surface through flush metrics
// and logs.
//
// Flushes are serialized so timer-based and size-triggered flushes cannot
// interleave and reorder inserts.
type Collector struct {
	coordinator   Ingester
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []collectorEntry

	flushMu sync.Mutex

	closed   atomic.Bool
	started  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
	flushWg  sync.WaitGroup

	envelopesReceived atomic.Int64
	envelopesFlushed  atomic.Int64
	flushCount        atomic.Int64
	errorCount        atomic.Int64
	lastFlushTime     atomic.Value // stores time.Time
}

// NewCollector creates a batch collector in front of the coordinator.
func NewCollector(coordinator Ingester, batchSize int, flushInterval time.Duration) (*Collector, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if flushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}

	c := &Collector{
		coordinator:   coordinator,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]collectorEntry, 0, batchSize),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
	c.lastFlushTime.Store(time.Time{})

	return c, nil
}

// Start begins the periodic flush timer. Safe to call multiple times.
func (c *Collector) Start(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("collector is closed")
	}
	if c.started.Swap(true) {
		return nil
	}

	go c.flushLoop(ctx)
	return nil
}

// Ingest buffers the batch and returns immediately. The returned result
// counts accepted envelopes; persistence happens on the next flush.
func (c *Collector) Ingest(_ context.Context, batch []*Envelope, enqueuedUTC time.Time) Result {
	if c.closed.Load() {
		return Result{
			Failed: len(batch),
			Failures: []Failure{
				{Reason: "collector is closed"},
			},
		}
	}

	c.mu.Lock()
	for _, env := range batch {
		c.buffer = append(c.buffer, collectorEntry{env: env, enqueuedUTC: enqueuedUTC})
	}
	bufferSize := len(c.buffer)
	c.envelopesReceived.Add(int64(len(batch)))
	needsFlush := bufferSize >= c.batchSize
	c.mu.Unlock()

	if needsFlush {
		c.flushWg.Add(1)
		go func() {
			defer c.flushWg.Done()
			// Detached context: the message context may be canceled as soon
			// as the handler acks, but the flush must still complete.
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			c.doFlush(flushCtx)
		}()
	}

	return Result{Processed: len(batch)}
}

// Flush synchronously drains the buffer, waiting for in-flight async
// flushes first.
func (c *Collector) Flush(ctx context.Context) error {
	c.flushWg.Wait()
	return c.doFlush(ctx)
}

// Close stops the flush timer and drains pending envelopes. Safe to call
// multiple times.
func (c *Collector) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	if c.started.Load() {
		close(c.stopChan)
		<-c.doneChan
	}

	c.flushWg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return c.doFlush(ctx)
}

// Stats returns current runtime statistics.
func (c *Collector) Stats() CollectorStats {
	c.mu.Lock()
	bufferSize := len(c.buffer)
	c.mu.Unlock()

	var lastFlush time.Time
	if t, ok := c.lastFlushTime.Load().(time.Time); ok {
		lastFlush = t
	}

	return CollectorStats{
		EnvelopesReceived: c.envelopesReceived.Load(),
		EnvelopesFlushed:  c.envelopesFlushed.Load(),
		FlushCount:        c.flushCount.Load(),
		ErrorCount:        c.errorCount.Load(),
		LastFlushTime:     lastFlush,
		BufferSize:        bufferSize,
	}
}

// flushLoop runs the periodic flush timer. The parent context only controls
// shutdown; each flush gets a fresh context with its own timeout.
func (c *Collector) flushLoop(ctx context.Context) {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := c.doFlush(flushCtx); err != nil {
				logging.Debug().Err(err).Msg("Periodic flush failed")
			}
			cancel()
		}
	}
}

// doFlush drains the buffer and hands batches to the coordinator. Entries
// sharing an enqueue time stay in one coordinator batch; a new time starts
// a new batch so every envelope keeps its own transport timestamp.
func (c *Collector) doFlush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return nil
	}
	entries := c.buffer
	c.buffer = make([]collectorEntry, 0, c.batchSize)
	c.mu.Unlock()

	start := time.Now()
	var failed int

	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && entries[j].enqueuedUTC.Equal(entries[i].enqueuedUTC) {
			j++
		}

		batch := make([]*Envelope, 0, j-i)
		for _, e := range entries[i:j] {
			batch = append(batch, e.env)
		}

		result := c.coordinator.Ingest(ctx, batch, entries[i].enqueuedUTC)
		failed += result.Failed
		i = j
	}

	elapsed := time.Since(start)
	c.flushCount.Add(1)
	c.envelopesFlushed.Add(int64(len(entries) - failed))
	c.lastFlushTime.Store(time.Now())

	var err error
	if failed > 0 {
		c.errorCount.Add(1)
		err = fmt.Errorf("flush: %d of %d envelopes failed", failed, len(entries))
	}
	metrics.ObserveFlush(len(entries), elapsed, err)

	logging.Debug().
		Int("count", len(entries)).
		Int("failed", failed).
		Dur("elapsed", elapsed).
		Msg("Envelope buffer flushed")

	return err
}
