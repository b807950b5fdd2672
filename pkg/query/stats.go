package query

import (
	"time"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

// WeeklyWindow is how far back WeeklyAverages looks
const WeeklyWindow = 7 * 24 * time.Hour

// DefaultAverageFields are the fields the dashboard shows weekly averages for
var DefaultAverageFields = []string{
	"battery_voltage",
	"battery_capacity",
	"pv_input_voltage",
	"pv_input_power",
	"ac_output_power",
	"ac_output_load",
	"inverter_temperature",
}

// FieldStats summarizes one field over a window
type FieldStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   uint64  `json:"count"`
}

// accumulator is a single-bucket aggregate: sum, count, min, max
type accumulator struct {
	sum   float64
	count uint64
	min   float64
	max   float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.count++
}

func (a *accumulator) stats() FieldStats {
	return FieldStats{
		Average: a.sum / float64(a.count),
		Min:     a.min,
		Max:     a.max,
		Count:   a.count,
	}
}

// WeeklyAverages computes per-field statistics over the samples of the last
// seven days before now. Only numeric values count; a sample missing a field
// is excluded from that field. Fields without any value are omitted.
func WeeklyAverages(samples []telemetry.Sample, fields []string, now time.Time) map[string]FieldStats {
	start := now.Add(-WeeklyWindow)
	accs := make(map[string]*accumulator, len(fields))

	for _, s := range samples {
		ts, err := s.Timestamp()
		if err != nil || ts.Before(start) || ts.After(now) {
			continue
		}

		for _, field := range fields {
			v, ok := telemetry.Float(s[field])
			if !ok {
				continue
			}
			acc, exists := accs[field]
			if !exists {
				acc = &accumulator{}
				accs[field] = acc
			}
			acc.add(v)
		}
	}

	out := make(map[string]FieldStats, len(accs))
	for field, acc := range accs {
		out[field] = acc.stats()
	}
	return out
}
