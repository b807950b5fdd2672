// Package snapshot holds the fully reconstructed state of the most recently
// ingested sample. The delta codec compares every new sample against it, and
// "current value" queries read it instead of the cached log.
package snapshot

import (
	"context"
	"sync"

	"github.com/nicktill/solarlog/pkg/reconstruct"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// LogReader is the part of the storage layer the snapshot rehydrates from
type LogReader interface {
	ReadAll(ctx context.Context) ([]telemetry.Record, error)
}

// InitResult describes how Initialize rebuilt the state
type InitResult struct {
	// Records is the number of records read from the log
	Records int

	// Degraded is true when the log had no full record and the last
	// record was taken as-is
	Degraded bool

	// Err is the read failure, if any. The state is empty in that case.
	Err error
}

// State is safe for concurrent use. The zero value is an empty state.
type State struct {
	mu      sync.RWMutex
	current telemetry.Sample
}

// New creates an empty state
func New() *State {
	return &State{}
}

// Initialize rebuilds the state from the log. Read failures are not fatal:
// the state starts empty and the next sample is stored as a full record.
func (s *State) Initialize(ctx context.Context, reader LogReader) InitResult {
	records, err := reader.ReadAll(ctx)
	if err != nil {
		s.Reset()
		return InitResult{Err: err}
	}

	state, degraded := reconstruct.Latest(records)

	s.mu.Lock()
	s.current = state
	s.mu.Unlock()

	return InitResult{Records: len(records), Degraded: degraded}
}

// Get returns a copy of the current state, empty if unset
func (s *State) Get() telemetry.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Set replaces the state wholesale (after a full record was stored)
func (s *State) Set(sample telemetry.Sample) {
	cp := sample.Clone()
	delete(cp, telemetry.FieldType)

	s.mu.Lock()
	s.current = cp
	s.mu.Unlock()
}

// Merge writes the delta's fields over the state (after a delta was stored)
func (s *State) Merge(delta telemetry.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		s.current = telemetry.Sample{}
	}
	s.current.Merge(delta)
}

// Apply updates the state from a stored record
func (s *State) Apply(rec telemetry.Record) {
	if rec.IsDelta() {
		s.Merge(rec.Sample)
		return
	}
	s.Set(rec.Sample)
}

// Reset clears the state
func (s *State) Reset() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// IsEmpty reports whether no state is held
func (s *State) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current) == 0
}
