// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telemetron/telemetron/internal/config"
	"github.com/telemetron/telemetron/internal/ingest"
	"github.com/telemetron/telemetron/internal/models"
	"github.com/telemetron/telemetron/internal/timezone"
)

// testDBMutex serializes database creation. Concurrent DuckDB CGO calls can
// hang under CI resource pressure.
var testDBMutex sync.Mutex

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:                   ":memory:",
		MaxMemory:              "1GB",
		PreserveInsertionOrder: true,
	}

	testDBMutex.Lock()
	db, err := New(cfg)
	testDBMutex.Unlock()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	return db
}

func testMeasurement(sensorID int, typ models.MeasurementType, value float64, ts time.Time) models.Measurement {
	return models.Measurement{
		SensorID:     sensorID,
		TypeID:       typ,
		Value:        value,
		Timestamp:    ts,
		TimestampUTC: ts.Add(-time.Hour),
	}
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}

func TestDB_AppendAndScanMeasurements(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	batch := []models.Measurement{
		testMeasurement(1, models.TypeTemperature, 21.5, base),
		testMeasurement(1, models.TypeTemperature, 22.0, base.Add(time.Hour)),
		testMeasurement(2, models.TypeHumidity, 48.0, base.Add(30*time.Minute)),
	}

	if err := db.AppendMeasurements(ctx, batch); err != nil {
		t.Fatalf("AppendMeasurements error: %v", err)
	}

	t.Run("rows in range ordered by local timestamp", func(t *testing.T) {
		got, err := db.MeasurementsInRange(ctx, []int{1, 2}, nil, base, base.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("MeasurementsInRange error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("Expected 3 rows, got %d", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Timestamp.Before(got[i-1].Timestamp) {
				t.Errorf("Rows out of order at %d: %v before %v", i, got[i].Timestamp, got[i-1].Timestamp)
			}
		}
	})

	t.Run("ids are strictly increasing in insertion order", func(t *testing.T) {
		got, err := db.MeasurementsInRange(ctx, []int{1}, nil, base, base.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("MeasurementsInRange error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 rows, got %d", len(got))
		}
		if got[1].ID <= got[0].ID {
			t.Errorf("Expected increasing ids, got %d then %d", got[0].ID, got[1].ID)
		}
	})

	t.Run("range bounds are inclusive", func(t *testing.T) {
		got, err := db.MeasurementsInRange(ctx, []int{1}, nil, base, base)
		if err != nil {
			t.Fatalf("MeasurementsInRange error: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("Expected boundary row to be included, got %d rows", len(got))
		}
	})

	t.Run("sensor filter applies", func(t *testing.T) {
		got, err := db.MeasurementsInRange(ctx, []int{2}, nil, base, base.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("MeasurementsInRange error: %v", err)
		}
		if len(got) != 1 || got[0].SensorID != 2 {
			t.Errorf("Expected only sensor 2 rows, got %+v", got)
		}
	})

	t.Run("empty sensor list yields empty result", func(t *testing.T) {
		got, err := db.MeasurementsInRange(ctx, nil, nil, base, base.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("MeasurementsInRange error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected empty result, got %d rows", len(got))
		}
	})

	t.Run("count", func(t *testing.T) {
		count, err := db.MeasurementCount(ctx)
		if err != nil {
			t.Fatalf("MeasurementCount error: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected count 3, got %d", count)
		}
	})
}

func TestDB_WallClockSurvivesRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// A device in UTC+2 reports local noon with its own RFC3339 offset. The
	// stored local timestamp must scan back as the same wall clock, not the
	// UTC rendering of the instant.
	tz := timezone.NewFixedOffsetProvider("UTC+2", 2*time.Hour)
	env := &ingest.Envelope{
		DeviceID:       "hub-a",
		SequenceNumber: 1,
		Readings: []ingest.Reading{
			{
				SensorID:  9,
				TypeID:    int(models.TypeTemperature),
				Value:     23.5,
				Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("UTC+2", 2*60*60)),
			},
		},
	}

	enqueued := time.Date(2026, 5, 1, 10, 0, 5, 0, time.UTC)
	if err := db.AppendMeasurements(ctx, env.ToMeasurements(tz, enqueued, 0)); err != nil {
		t.Fatalf("AppendMeasurements error: %v", err)
	}

	got, err := db.MeasurementsInRange(ctx,
		[]int{9}, nil,
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("MeasurementsInRange error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(got))
	}

	ts := got[0].Timestamp.UTC()
	if ts.Year() != 2026 || ts.Month() != time.May || ts.Day() != 1 || ts.Hour() != 12 || ts.Minute() != 0 {
		t.Errorf("Wall clock lost in round-trip: got %v, want 2026-05-01 12:00", got[0].Timestamp)
	}
	if !got[0].TimestampUTC.Equal(enqueued) {
		t.Errorf("UTC timestamp = %v, want enqueued %v", got[0].TimestampUTC, enqueued)
	}
}

func TestDB_LatestMeasurements(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	// Insert in two batches so the later batch gets higher ids even though
	// its timestamps are earlier. Latest selection must follow the id.
	first := []models.Measurement{
		testMeasurement(1, models.TypeTemperature, 20.0, base.Add(2*time.Hour)),
		testMeasurement(1, models.TypeHumidity, 50.0, base.Add(2*time.Hour)),
	}
	second := []models.Measurement{
		testMeasurement(1, models.TypeTemperature, 99.0, base),
	}
	if err := db.AppendMeasurements(ctx, first); err != nil {
		t.Fatalf("AppendMeasurements error: %v", err)
	}
	if err := db.AppendMeasurements(ctx, second); err != nil {
		t.Fatalf("AppendMeasurements error: %v", err)
	}

	got, err := db.LatestMeasurements(ctx, []int{1}, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("LatestMeasurements error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected one row per (sensor, type), got %d", len(got))
	}

	byType := map[models.MeasurementType]models.Measurement{}
	for _, m := range got {
		byType[m.TypeID] = m
	}
	if byType[models.TypeTemperature].Value != 99.0 {
		t.Errorf("Expected highest-id temperature row (99.0), got %v", byType[models.TypeTemperature].Value)
	}
	if byType[models.TypeHumidity].Value != 50.0 {
		t.Errorf("Expected humidity 50.0, got %v", byType[models.TypeHumidity].Value)
	}

	t.Run("window excludes old rows", func(t *testing.T) {
		got, err := db.LatestMeasurements(ctx, []int{1}, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("LatestMeasurements error: %v", err)
		}
		// The highest-id temperature row sits at base, outside the window,
		// so the in-window row at base+2h wins instead.
		byType := map[models.MeasurementType]models.Measurement{}
		for _, m := range got {
			byType[m.TypeID] = m
		}
		if byType[models.TypeTemperature].Value != 20.0 {
			t.Errorf("Expected in-window temperature 20.0, got %v", byType[models.TypeTemperature].Value)
		}
	})
}

func TestDB_DeviceMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msg := &models.DeviceMessage{
		DeviceID:       "sensor-hub-01",
		SequenceNumber: 17,
		FirstMessage:   true,
		UptimeSeconds:  120,
		MessageCount:   17,
		Source:         "iothub",
		EnqueuedAt:     time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	id, err := db.InsertDeviceMessage(ctx, msg)
	if err != nil {
		t.Fatalf("InsertDeviceMessage error: %v", err)
	}
	if id <= 0 {
		t.Errorf("Expected positive id, got %d", id)
	}

	id2, err := db.InsertDeviceMessage(ctx, msg)
	if err != nil {
		t.Fatalf("InsertDeviceMessage error: %v", err)
	}
	if id2 <= id {
		t.Errorf("Expected increasing ids, got %d then %d", id, id2)
	}

	count, err := db.DeviceMessageCount(ctx)
	if err != nil {
		t.Fatalf("DeviceMessageCount error: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 device messages, got %d", count)
	}
}

func TestDB_Devices(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	identifier := uuid.New()
	seen := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	device := &models.Device{
		DeviceID:   "sensor-hub-01",
		Identifier: identifier,
		FirstSeen:  seen,
		LastSeen:   seen,
	}

	if err := db.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("UpsertDevice error: %v", err)
	}

	t.Run("get returns stored device", func(t *testing.T) {
		got, err := db.GetDevice(ctx, "sensor-hub-01")
		if err != nil {
			t.Fatalf("GetDevice error: %v", err)
		}
		if got.Identifier != identifier {
			t.Errorf("Identifier mismatch: %s != %s", got.Identifier, identifier)
		}
	})

	t.Run("unknown device returns ErrNotFound", func(t *testing.T) {
		_, err := db.GetDevice(ctx, "missing-hub")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("upsert advances last seen", func(t *testing.T) {
		later := seen.Add(time.Hour)
		device.LastSeen = later
		if err := db.UpsertDevice(ctx, device); err != nil {
			t.Fatalf("UpsertDevice error: %v", err)
		}

		got, err := db.GetDevice(ctx, "sensor-hub-01")
		if err != nil {
			t.Fatalf("GetDevice error: %v", err)
		}
		if !got.LastSeen.Equal(later) {
			t.Errorf("Expected last_seen %v, got %v", later, got.LastSeen)
		}
		if !got.FirstSeen.Equal(seen) {
			t.Errorf("Expected first_seen unchanged at %v, got %v", seen, got.FirstSeen)
		}
	})

	t.Run("list", func(t *testing.T) {
		devices, err := db.ListDevices(ctx)
		if err != nil {
			t.Fatalf("ListDevices error: %v", err)
		}
		if len(devices) != 1 {
			t.Errorf("Expected 1 device, got %d", len(devices))
		}
	})
}
