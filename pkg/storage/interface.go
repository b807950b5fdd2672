package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

var (
	// ErrNotFound is returned when there is no persisted log to export
	ErrNotFound = errors.New("telemetry log not found")

	// ErrCorrupt is returned when the persisted log cannot be parsed
	ErrCorrupt = errors.New("telemetry log is corrupt")
)

// Storage defines the interface for telemetry log backends.
// Implementations: file (JSON array on disk), memory (testing), badger and
// sqlite (embedded stores).
//
// The log is append-only and chronological. Backends serialize Append
// internally; callers that need "codec then append then snapshot update" to
// be atomic must hold their own lock around the sequence.
type Storage interface {
	// Append stores one record at the end of the log and returns the new length
	Append(ctx context.Context, rec telemetry.Record) (int, error)

	// ReadAll returns the whole log in append order.
	// A log that was never written is empty, not an error.
	ReadAll(ctx context.Context) ([]telemetry.Record, error)

	// ExportRaw returns the persisted log as a JSON array for download
	ExportRaw(ctx context.Context) ([]byte, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Stats provides storage health and usage info
type Stats struct {
	// Backend name (file, memory, badger, sqlite)
	Backend string `json:"backend"`

	// Records stored, split by kind
	TotalRecords uint64 `json:"total_records"`
	FullRecords  uint64 `json:"full_records"`
	DeltaRecords uint64 `json:"delta_records"`

	// Storage size in bytes (estimate for memory)
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest and newest record timestamps
	OldestRecord time.Time `json:"oldest_record,omitempty"`
	NewestRecord time.Time `json:"newest_record,omitempty"`
}

// Summarize fills the record counters and time bounds of stats from a log
func Summarize(stats *Stats, records []telemetry.Record) {
	stats.TotalRecords = uint64(len(records))
	stats.FullRecords = 0
	stats.DeltaRecords = 0

	for _, rec := range records {
		if rec.IsDelta() {
			stats.DeltaRecords++
		} else {
			stats.FullRecords++
		}

		ts, err := rec.Timestamp()
		if err != nil {
			continue
		}
		if stats.OldestRecord.IsZero() || ts.Before(stats.OldestRecord) {
			stats.OldestRecord = ts
		}
		if stats.NewestRecord.IsZero() || ts.After(stats.NewestRecord) {
			stats.NewestRecord = ts
		}
	}
}
