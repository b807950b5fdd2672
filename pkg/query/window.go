package query

import (
	"sort"
	"time"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

// FilterByTimeRange returns the records whose timestamp lies in
// [now - hoursBack, now], sorted ascending. Records with an unreadable
// timestamp are dropped. A non-positive hoursBack yields nothing.
func FilterByTimeRange(log []telemetry.Record, hoursBack float64, now time.Time) []telemetry.Record {
	if hoursBack <= 0 {
		return []telemetry.Record{}
	}

	start := now.Add(-time.Duration(hoursBack * float64(time.Hour)))

	type stamped struct {
		ts  time.Time
		rec telemetry.Record
	}
	kept := make([]stamped, 0, len(log))

	for _, rec := range log {
		ts, err := rec.Timestamp()
		if err != nil {
			continue
		}
		if ts.Before(start) || ts.After(now) {
			continue
		}
		kept = append(kept, stamped{ts: ts, rec: rec})
	}

	// The log is append-ordered already; devices with drifting clocks are not
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].ts.Before(kept[j].ts)
	})

	out := make([]telemetry.Record, len(kept))
	for i, k := range kept {
		out[i] = k.rec
	}
	return out
}

// Downsample bounds a series for charting by taking every
// floor(n/maxPoints)-th item. It never returns more than maxPoints items and
// returns items unchanged when they already fit (or maxPoints <= 0).
func Downsample[T any](items []T, maxPoints int) []T {
	if maxPoints <= 0 || len(items) <= maxPoints {
		return items
	}

	stride := len(items) / maxPoints
	out := make([]T, 0, maxPoints)
	for i := 0; i < len(items) && len(out) < maxPoints; i += stride {
		out = append(out, items[i])
	}
	return out
}
