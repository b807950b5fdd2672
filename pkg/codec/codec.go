// Package codec decides how an incoming inverter sample is persisted: as a
// full snapshot, as a sparse delta against the last known state, or not at
// all when nothing significant changed.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

// Outcome of encoding one sample
type Outcome string

const (
	OutcomeFull  Outcome = "full"
	OutcomeDelta Outcome = "delta"
	OutcomeSkip  Outcome = "skip"
)

// Default fault indicator fields
const (
	DefaultErrorField   = "error"
	DefaultWarningField = "warning"
)

// DefaultTrackedFields are the inverter registers compared for deltas
var DefaultTrackedFields = []string{
	"bus_voltage",
	"battery_voltage",
	"battery_capacity",
	"battery_charge_current",
	"battery_discharge_current",
	"pv_input_voltage",
	"pv_input_current",
	"pv_input_power",
	"ac_output_voltage",
	"ac_output_frequency",
	"ac_output_power",
	"ac_output_load",
	"inverter_temperature",
	"error",
	"warning",
	"device_status",
}

// Config selects the significant fields and the fault indicators
type Config struct {
	// TrackedFields is the whitelist compared between samples.
	// Meta fields are ignored here even if listed.
	TrackedFields []string

	// ErrorField and WarningField force a full record when > 0
	ErrorField   string
	WarningField string
}

// DefaultConfig returns the stock inverter configuration
func DefaultConfig() Config {
	tracked := make([]string, len(DefaultTrackedFields))
	copy(tracked, DefaultTrackedFields)
	return Config{
		TrackedFields: tracked,
		ErrorField:    DefaultErrorField,
		WarningField:  DefaultWarningField,
	}
}

// Result is what the caller applies: append Record unless Outcome is Skip
type Result struct {
	Outcome Outcome
	Record  telemetry.Record
	Changed []string
	Reason  string
}

// Codec encodes samples against the last known snapshot. It holds no state.
type Codec struct {
	cfg     Config
	tracked []string
}

// New creates a codec. An empty whitelist falls back to DefaultTrackedFields.
func New(cfg Config) *Codec {
	if len(cfg.TrackedFields) == 0 {
		cfg.TrackedFields = DefaultTrackedFields
	}

	seen := make(map[string]bool, len(cfg.TrackedFields))
	tracked := make([]string, 0, len(cfg.TrackedFields))
	for _, f := range cfg.TrackedFields {
		f = strings.TrimSpace(f)
		if f == "" || isMeta(f) || seen[f] {
			continue
		}
		seen[f] = true
		tracked = append(tracked, f)
	}
	sort.Strings(tracked)

	return &Codec{cfg: cfg, tracked: tracked}
}

// TrackedFields returns the effective whitelist, sorted
func (c *Codec) TrackedFields() []string {
	out := make([]string, len(c.tracked))
	copy(out, c.tracked)
	return out
}

// IsTracked reports whether field is on the whitelist
func (c *Codec) IsTracked(field string) bool {
	i := sort.SearchStrings(c.tracked, field)
	return i < len(c.tracked) && c.tracked[i] == field
}

// Encode applies the rules in order:
//  1. error or warning indicator > 0 -> full
//  2. no previous snapshot -> full
//  3. tracked fields unchanged -> skip, otherwise delta of the changed fields
func (c *Codec) Encode(sample, last telemetry.Sample) Result {
	if field, ok := c.faultField(sample); ok {
		return Result{
			Outcome: OutcomeFull,
			Record:  telemetry.NewFull(sample),
			Reason:  fmt.Sprintf("%s=%v is set, storing full record", field, sample[field]),
		}
	}

	if last.IsEmpty() {
		return Result{
			Outcome: OutcomeFull,
			Record:  telemetry.NewFull(sample),
			Reason:  "no previous snapshot, storing full record",
		}
	}

	changed := c.Diff(sample, last)
	if len(changed) == 0 {
		return Result{
			Outcome: OutcomeSkip,
			Reason:  "no tracked field changed, skipping",
		}
	}

	delta := make(telemetry.Sample, len(changed)+2)
	for _, meta := range []string{telemetry.FieldTimestamp, telemetry.FieldLocalTime} {
		if v, ok := sample[meta]; ok {
			delta[meta] = v
		}
	}
	for _, f := range changed {
		// A tracked field that disappeared is written as null so replay clears it
		delta[f] = sample[f]
	}

	return Result{
		Outcome: OutcomeDelta,
		Record:  telemetry.NewDelta(delta),
		Changed: changed,
		Reason:  fmt.Sprintf("%d field(s) changed: %s", len(changed), strings.Join(changed, ", ")),
	}
}

// Diff lists the tracked fields whose value differs between sample and last.
// Absent and null are the same; anything else against absent is a change.
func (c *Codec) Diff(sample, last telemetry.Sample) []string {
	var changed []string
	for _, f := range c.tracked {
		if !telemetry.Equal(sample[f], last[f]) {
			changed = append(changed, f)
		}
	}
	return changed
}

func (c *Codec) faultField(sample telemetry.Sample) (string, bool) {
	for _, f := range []string{c.cfg.ErrorField, c.cfg.WarningField} {
		if f == "" {
			continue
		}
		if v, ok := sample[f]; ok && telemetry.Positive(v) {
			return f, true
		}
	}
	return "", false
}

func isMeta(field string) bool {
	return field == telemetry.FieldTimestamp || field == telemetry.FieldLocalTime || field == telemetry.FieldType
}
