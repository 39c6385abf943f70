// Telemetron - Environmental Sensor Telemetry Ingestion and Analytics
// Copyright 2026 Telemetron Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/telemetron/telemetron

package models

import "testing"

func TestMeasurementType_String(t *testing.T) {
	cases := []struct {
		typ  MeasurementType
		want string
	}{
		{TypeUndefined, "undefined"},
		{TypeTemperature, "temperature"},
		{TypeHumidity, "humidity"},
		{TypeMotion, "motion"},
		{TypeOnline, "online"},
		{TypePressure, "pressure"},
		{TypeBattery, "battery"},
		{MeasurementType(99), "undefined"},
	}

	for _, tc := range cases {
		if got := tc.typ.String(); got != tc.want {
			t.Errorf("MeasurementType(%d).String() = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestMeasurementType_Aggregation(t *testing.T) {
	t.Run("motion aggregates by max", func(t *testing.T) {
		if TypeMotion.Aggregation() != AggregateMax {
			t.Error("Expected AggregateMax for motion")
		}
	})

	t.Run("everything else aggregates by mean", func(t *testing.T) {
		for _, typ := range []MeasurementType{
			TypeUndefined, TypeTemperature, TypeHumidity, TypeOnline, TypePressure, TypeBattery,
		} {
			if typ.Aggregation() != AggregateMean {
				t.Errorf("Expected AggregateMean for %s", typ)
			}
		}
	})

	t.Run("unknown types default to mean", func(t *testing.T) {
		if MeasurementType(42).Aggregation() != AggregateMean {
			t.Error("Expected AggregateMean for unknown type")
		}
	})
}
