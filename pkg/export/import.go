package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/solarlog/pkg/codec"
	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/reconstruct"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// maxReportedErrors caps the per-sample errors returned to the caller
const maxReportedErrors = 100

// Sink is the part of the engine the importer writes through
type Sink interface {
	Ingest(ctx context.Context, sample telemetry.Sample) (*engine.IngestResult, error)
	Current() telemetry.Sample
}

// Importer replays backups through the codec, so imported data is
// compressed against the live snapshot like any device sample
type Importer struct {
	sink Sink
	log  *logger.Logger
	now  func() time.Time
}

// NewImporter creates a new importer
func NewImporter(sink Sink, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Nop()
	}
	return &Importer{sink: sink, log: log, now: time.Now}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	BatchID    string    `json:"batch_id"`
	Received   int       `json:"received"`
	Full       int       `json:"full"`
	Delta      int       `json:"delta"`
	Skipped    int       `json:"skipped"`
	Rejected   int       `json:"rejected"`
	TimeRange  string    `json:"time_range"`
	ImportedAt time.Time `json:"imported_at"`
	Errors     []string  `json:"errors,omitempty"`
}

// Import reads either a JSON export document or a raw log (an array of
// full and delta records) and ingests every sample in timestamp order.
// Samples not newer than the live snapshot are rejected so the log stays
// chronological.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	samples, err := decodeBackup(r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		BatchID:    uuid.NewString(),
		Received:   len(samples),
		TimeRange:  "empty",
		ImportedAt: im.now(),
	}
	im.log.Infow("import_started", "batch_id", result.BatchID, "samples", len(samples))

	ordered, rejected := orderByTimestamp(samples)
	for _, msg := range rejected {
		result.reject(msg)
	}

	var head time.Time
	if ts, err := im.sink.Current().Timestamp(); err == nil {
		head = ts
	}

	var first, last time.Time
	for _, item := range ordered {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("import interrupted after %d samples: %w", result.Full+result.Delta+result.Skipped, err)
		}

		if !head.IsZero() && !item.ts.After(head) {
			result.reject(fmt.Sprintf("sample %d: %s is not newer than the log head %s",
				item.index, telemetry.FormatTimestamp(item.ts), telemetry.FormatTimestamp(head)))
			continue
		}

		res, err := im.sink.Ingest(ctx, item.sample)
		if err != nil {
			if errors.Is(err, engine.ErrInvalidSample) {
				result.reject(fmt.Sprintf("sample %d: %v", item.index, err))
				continue
			}
			im.log.Errorw("import_failed", "batch_id", result.BatchID, "sample", item.index, "err", err)
			return result, fmt.Errorf("failed to ingest sample %d: %w", item.index, err)
		}

		switch {
		case res.Skipped:
			result.Skipped++
		case res.Kind == codec.OutcomeFull:
			result.Full++
		default:
			result.Delta++
		}

		if first.IsZero() {
			first = item.ts
		}
		last = item.ts
		head = item.ts
	}

	if !first.IsZero() {
		result.TimeRange = fmt.Sprintf("%s to %s", first.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	im.log.Infow("import_finished",
		"batch_id", result.BatchID,
		"full", result.Full,
		"delta", result.Delta,
		"skipped", result.Skipped,
		"rejected", result.Rejected,
	)
	return result, nil
}

func (r *ImportResult) reject(msg string) {
	r.Rejected++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

type timedSample struct {
	index  int
	ts     time.Time
	sample telemetry.Sample
}

// orderByTimestamp drops samples without a usable timestamp and stably
// sorts the rest
func orderByTimestamp(samples []telemetry.Sample) ([]timedSample, []string) {
	var rejected []string
	out := make([]timedSample, 0, len(samples))
	for i, s := range samples {
		ts, err := s.Timestamp()
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("sample %d: %v", i, err))
			continue
		}
		out = append(out, timedSample{index: i, ts: ts, sample: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ts.Before(out[j].ts) })
	return out, rejected
}

// decodeBackup accepts a Document or a raw log array. Raw logs are
// reconstructed first, so each imported sample is complete.
func decodeBackup(r io.Reader) ([]telemetry.Sample, error) {
	br := bufio.NewReader(r)

	first, err := peekNonSpace(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	decoder := json.NewDecoder(br)
	switch first {
	case '[':
		var records []telemetry.Record
		if err := decoder.Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode raw log: %w", err)
		}
		return reconstruct.Reconstruct(records, records, nil), nil
	case '{':
		var doc Document
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
		for _, s := range doc.Samples {
			delete(s, telemetry.FieldType)
		}
		return doc.Samples, nil
	default:
		return nil, fmt.Errorf("failed to decode JSON: unexpected %q at start of backup", first)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
