// Package engine ties the delta codec, the snapshot and a log backend into
// the operations the HTTP layer and the CLI call.
//
// Ingestion is serialized by one mutex: codec decision, append and snapshot
// update happen as a unit, so the next sample is always compared against
// the state the previous append produced.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/solarlog/pkg/codec"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/query"
	"github.com/nicktill/solarlog/pkg/reconstruct"
	"github.com/nicktill/solarlog/pkg/snapshot"
	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// ErrInvalidSample is returned for samples rejected before the codec runs
var ErrInvalidSample = errors.New("invalid sample")

const defaultPageSize = 50

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Codec         codec.Config
	AverageFields []string
	ChartFields   []string
	Logger        *logger.Logger

	// Now is the clock used for range queries (tests pin it)
	Now func() time.Time
}

// Engine is safe for concurrent use
type Engine struct {
	store storage.Storage
	codec *codec.Codec
	state *snapshot.State
	log   *logger.Logger
	now   func() time.Time

	averageFields []string
	chartFields   []string

	// mu serializes the ingest sequence and snapshot resets
	mu    sync.Mutex
	count int
	// head is the timestamp of the last appended record. A snapshot reset
	// keeps it.
	head time.Time

	counters counters
}

type counters struct {
	full    atomic.Uint64
	delta   atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// New creates an engine over store. Call Initialize before ingesting.
func New(store storage.Storage, opts Options) *Engine {
	c := codec.New(opts.Codec)

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	averageFields := opts.AverageFields
	if len(averageFields) == 0 {
		averageFields = query.DefaultAverageFields
	}

	chartFields := opts.ChartFields
	if len(chartFields) == 0 {
		chartFields = c.TrackedFields()
	}

	return &Engine{
		store:         store,
		codec:         c,
		state:         snapshot.New(),
		log:           log,
		now:           now,
		averageFields: averageFields,
		chartFields:   chartFields,
	}
}

// Initialize rebuilds the snapshot from the log. Failures are logged and
// leave the snapshot empty; they never stop the engine.
func (e *Engine) Initialize(ctx context.Context) snapshot.InitResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initializeLocked(ctx)
}

func (e *Engine) initializeLocked(ctx context.Context) snapshot.InitResult {
	res := e.state.Initialize(ctx, e.store)
	e.count = res.Records
	e.head, _ = e.state.Get().Timestamp()

	switch {
	case res.Err != nil:
		e.log.Errorw("snapshot_init_failed", "err", res.Err)
	case res.Degraded:
		e.log.Warnw("snapshot_init_degraded", "records", res.Records,
			"reason", "no full record in log, using last record as-is")
	default:
		e.log.Infow("snapshot_initialized", "records", res.Records, "empty", e.state.IsEmpty())
	}
	return res
}

// IngestResult reports what happened to one sample
type IngestResult struct {
	Skipped     bool             `json:"skipped"`
	Kind        codec.Outcome    `json:"type"`
	Reason      string           `json:"reason"`
	Changed     []string         `json:"changed,omitempty"`
	RecordCount int              `json:"record_count"`
	State       telemetry.Sample `json:"state"`
}

// Ingest validates sample, runs it through the codec and appends the
// resulting record. Samples older than the snapshot head are rejected with
// ErrInvalidSample. A storage failure leaves the snapshot untouched.
func (e *Engine) Ingest(ctx context.Context, sample telemetry.Sample) (*IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.Validate(sample); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts, _ := sample.Timestamp()
	if ts.Before(e.head) {
		return nil, fmt.Errorf("%w: timestamp %s is older than the last stored sample %s",
			ErrInvalidSample, telemetry.FormatTimestamp(ts), telemetry.FormatTimestamp(e.head))
	}

	res := e.codec.Encode(sample, e.state.Get())
	e.log.Debugw("codec_decision", "outcome", res.Outcome, "reason", res.Reason)

	if res.Outcome == codec.OutcomeSkip {
		e.counters.skipped.Add(1)
		return &IngestResult{
			Skipped:     true,
			Kind:        res.Outcome,
			Reason:      res.Reason,
			RecordCount: e.count,
			State:       e.state.Get(),
		}, nil
	}

	n, err := e.store.Append(ctx, res.Record)
	if err != nil {
		e.counters.failed.Add(1)
		return nil, fmt.Errorf("failed to append %s record: %w", res.Outcome, err)
	}

	e.state.Apply(res.Record)
	e.count = n
	e.head = ts

	if res.Outcome == codec.OutcomeFull {
		e.counters.full.Add(1)
	} else {
		e.counters.delta.Add(1)
	}

	return &IngestResult{
		Kind:        res.Outcome,
		Reason:      res.Reason,
		Changed:     res.Changed,
		RecordCount: n,
		State:       e.state.Get(),
	}, nil
}

// Validate rejects samples without a parseable timestamp or without any
// tracked field
func (e *Engine) Validate(sample telemetry.Sample) error {
	if len(sample) == 0 {
		return fmt.Errorf("%w: empty sample", ErrInvalidSample)
	}
	if _, err := sample.Timestamp(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	for field := range sample {
		if e.codec.IsTracked(field) {
			return nil
		}
	}
	return fmt.Errorf("%w: no tracked field present", ErrInvalidSample)
}

// Current returns the live snapshot
func (e *Engine) Current() telemetry.Sample {
	return e.state.Get()
}

// ResetSnapshot clears the snapshot; the next sample is stored in full
func (e *Engine) ResetSnapshot() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Reset()
	e.log.Infow("snapshot_reset")
}

// ReloadSnapshot drops any cached read and rebuilds the snapshot from the log
func (e *Engine) ReloadSnapshot(ctx context.Context) snapshot.InitResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if inv, ok := e.store.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
	return e.initializeLocked(ctx)
}

// ExportRaw returns the persisted log unmodified
func (e *Engine) ExportRaw(ctx context.Context) ([]byte, error) {
	return e.store.ExportRaw(ctx)
}

// TrackedFields returns the codec whitelist
func (e *Engine) TrackedFields() []string {
	return e.codec.TrackedFields()
}

// ChartFields returns the fields QueryRange charts
func (e *Engine) ChartFields() []string {
	out := make([]string, len(e.chartFields))
	copy(out, e.chartFields)
	return out
}

// Stats combines storage statistics with ingest counters
type Stats struct {
	Storage       *storage.Stats `json:"storage"`
	SnapshotEmpty bool           `json:"snapshot_empty"`
	TrackedFields []string       `json:"tracked_fields"`
	Ingested      IngestCounts   `json:"ingested"`
}

// IngestCounts counts ingest outcomes since start
type IngestCounts struct {
	Full    uint64 `json:"full"`
	Delta   uint64 `json:"delta"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`
}

// Counts returns the ingest counters
func (e *Engine) Counts() IngestCounts {
	return IngestCounts{
		Full:    e.counters.full.Load(),
		Delta:   e.counters.delta.Load(),
		Skipped: e.counters.skipped.Load(),
		Failed:  e.counters.failed.Load(),
	}
}

// Stats returns storage statistics and engine counters
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage stats: %w", err)
	}
	return &Stats{
		Storage:       st,
		SnapshotEmpty: e.state.IsEmpty(),
		TrackedFields: e.codec.TrackedFields(),
		Ingested:      e.Counts(),
	}, nil
}

// History reconstructs every record of the log in order
func (e *Engine) History(ctx context.Context) ([]telemetry.Sample, error) {
	records, err := e.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return reconstruct.Reconstruct(records, records, e.state.Get()), nil
}
