package monitor

import (
	"sync"
	"time"
)

// Ingest health thresholds
const (
	// MaxConsecutiveFailures is how many storage failures in a row mark
	// ingestion unhealthy
	MaxConsecutiveFailures = 3

	// DefaultStaleAfter is how long without a sample before the device is
	// reported as silent
	DefaultStaleAfter = 5 * time.Minute
)

// IngestMonitor tracks whether samples are reaching the log
type IngestMonitor struct {
	mu                  sync.RWMutex
	lastSuccess         time.Time
	lastAttempt         time.Time
	consecutiveFailures int
	lastError           string

	staleAfter time.Duration
	now        func() time.Time
}

// NewIngestMonitor creates a monitor; staleAfter <= 0 uses DefaultStaleAfter
func NewIngestMonitor(staleAfter time.Duration) *IngestMonitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &IngestMonitor{staleAfter: staleAfter, now: time.Now}
}

// RecordSuccess records a sample that was stored or skipped
func (im *IngestMonitor) RecordSuccess() {
	im.mu.Lock()
	defer im.mu.Unlock()
	now := im.now()
	im.lastSuccess = now
	im.lastAttempt = now
	im.consecutiveFailures = 0
	im.lastError = ""
}

// RecordFailure records a sample the log could not store
func (im *IngestMonitor) RecordFailure(err error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.lastAttempt = im.now()
	im.consecutiveFailures++
	if err != nil {
		im.lastError = err.Error()
	}
}

// IsHealthy reports false once storage has failed more than
// MaxConsecutiveFailures times in a row. A silent device is not unhealthy.
func (im *IngestMonitor) IsHealthy() bool {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.consecutiveFailures <= MaxConsecutiveFailures
}

// IngestStatus is reported by the health endpoint
type IngestStatus struct {
	Healthy             bool   `json:"healthy"`
	Stale               bool   `json:"stale"`
	LastSuccess         string `json:"last_success,omitempty"`
	TimeSinceSuccess    string `json:"time_since_success,omitempty"`
	LastAttempt         string `json:"last_attempt,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastError           string `json:"last_error,omitempty"`
}

// Status returns the current ingest status
func (im *IngestMonitor) Status() IngestStatus {
	im.mu.RLock()
	defer im.mu.RUnlock()

	now := im.now()
	status := IngestStatus{
		Healthy: im.consecutiveFailures <= MaxConsecutiveFailures,
		Stale:   im.lastSuccess.IsZero() || now.Sub(im.lastSuccess) > im.staleAfter,
	}

	if !im.lastSuccess.IsZero() {
		status.LastSuccess = im.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = now.Sub(im.lastSuccess).Round(time.Second).String()
	}
	if !im.lastAttempt.IsZero() {
		status.LastAttempt = im.lastAttempt.Format(time.RFC3339)
	}
	if im.consecutiveFailures > 0 {
		status.ConsecutiveFailures = im.consecutiveFailures
		status.LastError = im.lastError
	}
	return status
}
