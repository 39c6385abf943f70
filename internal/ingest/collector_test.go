// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package ingest

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeIngester struct {
	mu       sync.Mutex
	batches  [][]*Envelope
	enqueued []time.Time
	failAll  bool
}

func (f *fakeIngester) Ingest(_ context.Context, batch []*Envelope, enqueuedUTC time.Time) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	f.enqueued = append(f.enqueued, enqueuedUTC)
	if f.failAll {
		failures := make([]Failure, 0, len(batch))
		for _, env := range batch {
			failures = append(failures, Failure{DeviceID: env.DeviceID, Reason: "store down"})
		}
		return Result{Failed: len(batch), Failures: failures}
	}
	return Result{Processed: len(batch)}
}

func (f *fakeIngester) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeIngester) totalEnvelopes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestCollector_FlushOnBatchSize(t *testing.T) {
	ing := &fakeIngester{}
	c, err := NewCollector(ing, 3, time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer c.Close()

	enqueued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		res := c.Ingest(context.Background(), []*Envelope{testEnvelope("hub-a", int64(i), 1)}, enqueued)
		if res.Processed != 1 {
			t.Fatalf("Ingest() processed = %d, want 1", res.Processed)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for ing.totalEnvelopes() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := ing.totalEnvelopes(); got != 3 {
		t.Errorf("flushed %d envelopes, want 3", got)
	}
	if c.Stats().FlushCount != 1 {
		t.Errorf("FlushCount = %d, want 1", c.Stats().FlushCount)
	}
}

func TestCollector_FlushOnInterval(t *testing.T) {
	ing := &fakeIngester{}
	c, err := NewCollector(ing, 100, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.Ingest(context.Background(), []*Envelope{testEnvelope("hub-a", 1, 1)}, time.Now().UTC())

	deadline := time.Now().Add(2 * time.Second)
	for ing.totalEnvelopes() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := ing.totalEnvelopes(); got != 1 {
		t.Errorf("flushed %d envelopes, want 1", got)
	}
}

func TestCollector_GroupsByEnqueueTime(t *testing.T) {
	ing := &fakeIngester{}
	c, err := NewCollector(ing, 100, time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	c.Ingest(context.Background(), []*Envelope{testEnvelope("hub-a", 1, 1), testEnvelope("hub-a", 2, 1)}, t1)
	c.Ingest(context.Background(), []*Envelope{testEnvelope("hub-b", 1, 2)}, t2)

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := ing.batchCount(); got != 2 {
		t.Fatalf("coordinator received %d batches, want 2", got)
	}
	if len(ing.batches[0]) != 2 || !ing.enqueued[0].Equal(t1) {
		t.Errorf("first batch = %d envelopes at %v, want 2 at %v", len(ing.batches[0]), ing.enqueued[0], t1)
	}
	if len(ing.batches[1]) != 1 || !ing.enqueued[1].Equal(t2) {
		t.Errorf("second batch = %d envelopes at %v, want 1 at %v", len(ing.batches[1]), ing.enqueued[1], t2)
	}
}

func TestCollector_CloseDrainsBuffer(t *testing.T) {
	ing := &fakeIngester{}
	c, err := NewCollector(ing, 100, time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.Ingest(context.Background(), []*Envelope{testEnvelope("hub-a", 1, 1)}, time.Now().UTC())

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := ing.totalEnvelopes(); got != 1 {
		t.Errorf("flushed %d envelopes on close, want 1", got)
	}

	res := c.Ingest(context.Background(), []*Envelope{testEnvelope("hub-a", 2, 1)}, time.Now().UTC())
	if res.Failed != 1 {
		t.Errorf("Ingest() after close failed = %d, want 1", res.Failed)
	}

	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCollector_FlushFailureSurfacesError(t *testing.T) {
	ing := &fakeIngester{failAll: true}
	c, err := NewCollector(ing, 100, time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.Ingest(context.Background(), []*Envelope{testEnvelope("hub-a", 1, 1)}, time.Now().UTC())

	if err := c.Flush(context.Background()); err == nil {
		t.Error("Flush() should surface coordinator failures")
	}
	if c.Stats().ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", c.Stats().ErrorCount)
	}
}

func TestNewCollector_Validation(t *testing.T) {
	if _, err := NewCollector(nil, 10, time.Second); err == nil {
		t.Error("nil coordinator should fail")
	}
	if _, err := NewCollector(&fakeIngester{}, 0, time.Second); err == nil {
		t.Error("zero batch size should fail")
	}
	if _, err := NewCollector(&fakeIngester{}, 10, 0); err == nil {
		t.Error("zero flush interval should fail")
	}
}
