// Package device simulates an inverter and uploads its samples the way the
// field hardware does: one JSON object per reading, posted to /v1/ingest.
package device

import (
	"math"
	"math/rand"
	"time"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

// InverterConfig describes the simulated installation
type InverterConfig struct {
	PeakPVWatts   float64 // array output at solar noon (0 = 3000)
	BaseLoadWatts float64 // household load without spikes (0 = 400)
	RatedWatts    float64 // inverter rating, used for ac_output_load (0 = 5000)
	BatteryWh     float64 // usable battery energy (0 = 5000)

	// FaultEvery raises error for one sample every n samples (0 = never)
	FaultEvery int

	Seed     int64
	Location *time.Location
}

// Inverter produces realistic, quantized readings. Values are rounded the
// way the inverter's registers report them, so consecutive readings at night
// are often identical.
type Inverter struct {
	cfg InverterConfig
	rng *rand.Rand

	capacity float64 // battery state of charge, percent
	lastAt   time.Time
	n        int
}

// NewInverter creates a simulated inverter with a half charged battery
func NewInverter(cfg InverterConfig) *Inverter {
	if cfg.PeakPVWatts <= 0 {
		cfg.PeakPVWatts = 3000
	}
	if cfg.BaseLoadWatts <= 0 {
		cfg.BaseLoadWatts = 400
	}
	if cfg.RatedWatts <= 0 {
		cfg.RatedWatts = 5000
	}
	if cfg.BatteryWh <= 0 {
		cfg.BatteryWh = 5000
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Inverter{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		capacity: 50,
	}
}

// Sample takes one reading at now
func (inv *Inverter) Sample(now time.Time) telemetry.Sample {
	inv.n++

	sun := sunFactor(now.In(inv.cfg.Location))
	pv := quantize(sun*inv.cfg.PeakPVWatts*(0.9+0.1*inv.rng.Float64()), 10)

	load := inv.cfg.BaseLoadWatts
	if inv.rng.Intn(10) == 0 {
		load += 1500 // kettle, oven
	}
	load = quantize(load, 10)

	inv.chargeBattery(now, pv-load)

	pvVoltage := 0.0
	pvCurrent := 0.0
	if pv > 0 {
		pvVoltage = math.Round(300 + sun*80)
		pvCurrent = round(pv/pvVoltage, 1)
	}

	batteryVoltage := round(48+inv.capacity*0.06, 1)
	chargeCurrent, dischargeCurrent := 0.0, 0.0
	net := pv - load
	switch {
	case net > 0 && inv.capacity < 100:
		chargeCurrent = math.Round(net / batteryVoltage)
	case net < 0 && inv.capacity > 0:
		dischargeCurrent = math.Round(-net / batteryVoltage)
	}

	status := "battery"
	switch {
	case pv >= load:
		status = "solar"
	case inv.capacity <= 10:
		status = "line"
	}

	errorCode := 0
	if inv.cfg.FaultEvery > 0 && inv.n%inv.cfg.FaultEvery == 0 {
		errorCode = 5
	}

	return telemetry.Sample{
		telemetry.FieldTimestamp:    telemetry.FormatTimestamp(now),
		telemetry.FieldLocalTime:    telemetry.FormatLocalTime(now, inv.cfg.Location),
		"bus_voltage":               float64(399 + inv.rng.Intn(3)),
		"battery_voltage":           batteryVoltage,
		"battery_capacity":          math.Round(inv.capacity),
		"battery_charge_current":    chargeCurrent,
		"battery_discharge_current": dischargeCurrent,
		"pv_input_voltage":          pvVoltage,
		"pv_input_current":          pvCurrent,
		"pv_input_power":            pv,
		"ac_output_voltage":         230.0,
		"ac_output_frequency":       50.0,
		"ac_output_power":           load,
		"ac_output_load":            math.Round(load / inv.cfg.RatedWatts * 100),
		"inverter_temperature":      math.Round(30 + sun*15),
		"error":                     float64(errorCode),
		"warning":                   0.0,
		"device_status":             status,
	}
}

// chargeBattery integrates net power since the previous reading
func (inv *Inverter) chargeBattery(now time.Time, netWatts float64) {
	if !inv.lastAt.IsZero() && now.After(inv.lastAt) {
		hours := now.Sub(inv.lastAt).Hours()
		inv.capacity += netWatts * hours / inv.cfg.BatteryWh * 100
		inv.capacity = math.Max(0, math.Min(100, inv.capacity))
	}
	inv.lastAt = now
}

// sunFactor is 0 at night and peaks at 1 at 12:00 local time
func sunFactor(t time.Time) float64 {
	h := float64(t.Hour()) + float64(t.Minute())/60
	if h <= 6 || h >= 18 {
		return 0
	}
	return math.Sin(math.Pi * (h - 6) / 12)
}

func quantize(v, step float64) float64 {
	return math.Round(v/step) * step
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
