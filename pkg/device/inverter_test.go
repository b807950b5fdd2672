package device

import (
	"testing"
	"time"

	"github.com/nicktill/solarlog/pkg/codec"
	"github.com/nicktill/solarlog/pkg/ingest"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

var day = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestInverter_SampleHasEveryTrackedField(t *testing.T) {
	inv := NewInverter(InverterConfig{Seed: 1})
	s := inv.Sample(day.Add(12 * time.Hour))

	for _, field := range codec.DefaultTrackedFields {
		if _, ok := s[field]; !ok {
			t.Errorf("sample is missing tracked field %s", field)
		}
	}
	if err := ingest.ValidateSample(s); err != nil {
		t.Errorf("simulated sample fails ingest validation: %v", err)
	}
	if _, err := s.Timestamp(); err != nil {
		t.Errorf("simulated timestamp does not parse: %v", err)
	}
	if s[telemetry.FieldLocalTime] != "01.06.2025, 12:00:00" {
		t.Errorf("local_time = %v", s[telemetry.FieldLocalTime])
	}
}

func TestInverter_DayNight(t *testing.T) {
	inv := NewInverter(InverterConfig{Seed: 1})

	night := inv.Sample(day.Add(2 * time.Hour))
	if night["pv_input_power"] != 0.0 || night["pv_input_voltage"] != 0.0 {
		t.Errorf("expected no PV at 02:00, got %v W at %v V", night["pv_input_power"], night["pv_input_voltage"])
	}

	noon := inv.Sample(day.Add(12 * time.Hour))
	pv, _ := telemetry.Float(noon["pv_input_power"])
	if pv < 2500 || pv > 3000 {
		t.Errorf("expected close to peak PV at noon, got %v", pv)
	}
	if noon["device_status"] != "solar" {
		t.Errorf("expected solar status at noon, got %v", noon["device_status"])
	}
}

func TestInverter_Deterministic(t *testing.T) {
	a := NewInverter(InverterConfig{Seed: 42})
	b := NewInverter(InverterConfig{Seed: 42})

	for i := 0; i < 50; i++ {
		at := day.Add(time.Duration(i) * 10 * time.Minute)
		sa, sb := a.Sample(at), b.Sample(at)
		for k, v := range sa {
			if !telemetry.Equal(v, sb[k]) {
				t.Fatalf("sample %d differs at %s: %v vs %v", i, k, v, sb[k])
			}
		}
	}
}

func TestInverter_FaultEvery(t *testing.T) {
	inv := NewInverter(InverterConfig{Seed: 1, FaultEvery: 3})

	var faults []int
	for i := 1; i <= 9; i++ {
		s := inv.Sample(day.Add(time.Duration(i) * time.Minute))
		if v, _ := telemetry.Float(s["error"]); v > 0 {
			faults = append(faults, i)
		}
	}

	if len(faults) != 3 || faults[0] != 3 || faults[2] != 9 {
		t.Errorf("expected faults at samples 3, 6, 9, got %v", faults)
	}
}

func TestInverter_BatteryStaysInRange(t *testing.T) {
	inv := NewInverter(InverterConfig{Seed: 7, BatteryWh: 500})

	for i := 0; i < 48*6; i++ {
		s := inv.Sample(day.Add(time.Duration(i) * 10 * time.Minute))
		c, _ := telemetry.Float(s["battery_capacity"])
		if c < 0 || c > 100 {
			t.Fatalf("battery_capacity out of range: %v", c)
		}
	}
}

func TestSunFactor(t *testing.T) {
	tests := []struct {
		hour float64
		want float64
	}{
		{0, 0},
		{6, 0},
		{12, 1},
		{18, 0},
		{23, 0},
	}

	for _, tt := range tests {
		at := day.Add(time.Duration(tt.hour * float64(time.Hour)))
		if got := sunFactor(at); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("sunFactor(%v h) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}
