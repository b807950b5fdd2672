// Package reconstruct rebuilds fully populated samples from a mixed stream of
// full and delta records.
//
// A window of the log that starts on a delta is meaningless on its own: the
// fields the delta did not touch live in some earlier record. Reconstruct
// finds the nearest full record before the window (the anchor), replays the
// deltas between the anchor and the window, and then walks the window.
//
// Both the window and the context must be in ascending timestamp order, which
// the append-only log guarantees.
package reconstruct

import (
	"time"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

// Reconstruct returns one complete sample per record in target, in order.
//
// log is the full log used to find the anchor for a window that starts on a
// delta. fallback is used as the base when no anchor exists before the
// window (normally the live snapshot); when it is empty too, leading fields
// stay unset until a record in the window sets them.
func Reconstruct(target, log []telemetry.Record, fallback telemetry.Sample) []telemetry.Sample {
	if len(target) == 0 {
		return []telemetry.Sample{}
	}

	var state telemetry.Sample
	if target[0].IsDelta() {
		state = baseBefore(target[0], log, fallback)
	} else {
		state = telemetry.Sample{}
	}

	out := make([]telemetry.Sample, 0, len(target))
	for _, rec := range target {
		state = apply(state, rec)
		out = append(out, state.Clone())
	}
	return out
}

// Replay folds every record in order and returns the final state. It is the
// straightforward reference that Reconstruct must agree with on a whole log.
func Replay(records []telemetry.Record) telemetry.Sample {
	state := telemetry.Sample{}
	for _, rec := range records {
		state = apply(state, rec)
	}
	return state
}

// Latest rebuilds the state after the last record by scanning backward for
// the most recent full record and replaying the deltas after it.
// If the log has no full record at all, the last record is returned as-is
// and degraded is true.
func Latest(records []telemetry.Record) (state telemetry.Sample, degraded bool) {
	if len(records) == 0 {
		return telemetry.Sample{}, false
	}

	anchor := -1
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].IsDelta() {
			anchor = i
			break
		}
	}

	if anchor < 0 {
		last := records[len(records)-1].Sample.Clone()
		return last, true
	}

	return Replay(records[anchor:]), false
}

// Anchor returns the index in log of the nearest full record strictly before
// at, or -1 when there is none.
func Anchor(log []telemetry.Record, at time.Time) int {
	end := precedingEnd(log, at)
	for i := end - 1; i >= 0; i-- {
		if !log[i].IsDelta() {
			return i
		}
	}
	return -1
}

func baseBefore(first telemetry.Record, log []telemetry.Record, fallback telemetry.Sample) telemetry.Sample {
	at, err := first.Timestamp()
	if err != nil {
		return fallback.Clone()
	}

	anchor := Anchor(log, at)
	if anchor < 0 {
		return fallback.Clone()
	}

	end := precedingEnd(log, at)
	return Replay(log[anchor:end])
}

// precedingEnd returns the length of the prefix of log whose records are
// strictly before at. Records with unreadable timestamps end the prefix.
func precedingEnd(log []telemetry.Record, at time.Time) int {
	end := 0
	for i, rec := range log {
		ts, err := rec.Timestamp()
		if err != nil || !ts.Before(at) {
			break
		}
		end = i + 1
	}
	return end
}

func apply(state telemetry.Sample, rec telemetry.Record) telemetry.Sample {
	if !rec.IsDelta() {
		return rec.Sample.Clone()
	}
	if state == nil {
		state = telemetry.Sample{}
	}
	state.Merge(rec.Sample)
	return state
}
