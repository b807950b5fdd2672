package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// Storage keeps the log in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	records []telemetry.Record
	written bool
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		records: make([]telemetry.Record, 0, 1024),
	}
}

// Append stores a record at the end of the log
func (s *Storage) Append(ctx context.Context, rec telemetry.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, telemetry.Record{Kind: rec.Kind, Sample: rec.Sample.Clone()})
	s.written = true
	return len(s.records), nil
}

// ReadAll returns a copy of the log
func (s *Storage) ReadAll(ctx context.Context) ([]telemetry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// ExportRaw encodes the log the way the file backend stores it
func (s *Storage) ExportRaw(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.written {
		return nil, storage.ErrNotFound
	}
	return json.Marshal(s.records)
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Backend: "memory"}
	storage.Summarize(stats, s.records)

	// Rough size estimate: fields * ~24 bytes of key and value
	for _, rec := range s.records {
		stats.SizeBytes += uint64(len(rec.Sample)) * 24
	}

	return stats, nil
}
