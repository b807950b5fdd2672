package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

// Format names accepted by the export endpoint
const (
	FormatRaw  = "raw"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// FormatVersion is written into JSON exports
const FormatVersion = "1.0"

// Source is the part of the engine the exporter reads from
type Source interface {
	ExportRaw(ctx context.Context) ([]byte, error)
	History(ctx context.Context) ([]telemetry.Sample, error)
}

// Exporter writes the telemetry log in the supported formats
type Exporter struct {
	source Source
	now    func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(source Source) *Exporter {
	return &Exporter{source: source, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Time range to export; zero values leave that side open
	Start time.Time
	End   time.Time

	// Columns for CSV; nil means every field seen in the range
	Fields []string
}

// ExportResult contains stats about the export
type ExportResult struct {
	SamplesExported int       `json:"samples_exported"`
	BytesWritten    int       `json:"bytes_written,omitempty"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata heads a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	SampleCount int       `json:"sample_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Document is the JSON export layout; Import reads it back
type Document struct {
	Metadata Metadata           `json:"metadata"`
	Samples  []telemetry.Sample `json:"samples"`
}

// ExportRaw copies the persisted log, deltas included, to w
func (e *Exporter) ExportRaw(ctx context.Context, w io.Writer) (*ExportResult, error) {
	raw, err := e.source.ExportRaw(ctx)
	if err != nil {
		return nil, err
	}

	n, err := w.Write(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to write raw log: %w", err)
	}

	return &ExportResult{
		BytesWritten: n,
		Format:       FormatRaw,
		ExportedAt:   e.now(),
	}, nil
}

// ExportToJSON writes reconstructed samples with export metadata
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.samples(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:  e.now(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			SampleCount: len(samples),
			Format:      FormatJSON,
			Version:     FormatVersion,
		},
		Samples: samples,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		Format:          FormatJSON,
		ExportedAt:      doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV writes reconstructed samples as a spreadsheet: timestamp and
// local_time first, then one column per field
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.samples(ctx, opts)
	if err != nil {
		return nil, err
	}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = collectFields(samples)
	}

	writer := csv.NewWriter(w)

	header := append([]string{telemetry.FieldTimestamp, telemetry.FieldLocalTime}, fields...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range samples {
		row := make([]string, 0, len(header))
		row = append(row, formatCell(s[telemetry.FieldTimestamp]), formatCell(s[telemetry.FieldLocalTime]))
		for _, f := range fields {
			row = append(row, formatCell(s[f]))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		Format:          FormatCSV,
		ExportedAt:      e.now(),
	}, nil
}

// samples reconstructs the log and keeps the samples inside the range
func (e *Exporter) samples(ctx context.Context, opts ExportOptions) ([]telemetry.Sample, error) {
	history, err := e.source.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct history: %w", err)
	}

	if opts.Start.IsZero() && opts.End.IsZero() {
		return history, nil
	}

	out := make([]telemetry.Sample, 0, len(history))
	for _, s := range history {
		ts, err := s.Timestamp()
		if err != nil {
			continue
		}
		if !opts.Start.IsZero() && ts.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && ts.After(opts.End) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// collectFields gathers every non-meta field name and returns them sorted
func collectFields(samples []telemetry.Sample) []string {
	set := make(map[string]struct{})
	for _, s := range samples {
		for k := range s {
			if k == telemetry.FieldTimestamp || k == telemetry.FieldLocalTime {
				continue
			}
			set[k] = struct{}{}
		}
	}

	fields := make([]string, 0, len(set))
	for k := range set {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		if f, ok := telemetry.Float(val); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprint(val)
	}
}
