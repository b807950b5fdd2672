package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Meta fields present on every sample and every record
const (
	FieldTimestamp = "timestamp"
	FieldLocalTime = "local_time"

	// FieldType carries the record kind on disk
	FieldType = "_type"
)

// Kind tags a persisted record
type Kind string

const (
	KindFull  Kind = "full"
	KindDelta Kind = "delta"
)

var (
	// ErrNoTimestamp is returned when a sample has no usable timestamp
	ErrNoTimestamp = errors.New("sample has no timestamp")

	// ErrUnknownKind is returned when a persisted record carries an unknown _type
	ErrUnknownKind = errors.New("unknown record type")
)

// Sample is one reading from the inverter: named sensor fields plus the
// timestamp and local_time meta fields.
type Sample map[string]any

// Timestamp parses the timestamp meta field
func (s Sample) Timestamp() (time.Time, error) {
	raw, ok := s[FieldTimestamp]
	if !ok || raw == nil {
		return time.Time{}, ErrNoTimestamp
	}
	str, ok := raw.(string)
	if !ok || str == "" {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoTimestamp, raw)
	}
	return ParseTimestamp(str)
}

// Clone returns a deep copy of the sample
func (s Sample) Clone() Sample {
	if s == nil {
		return Sample{}
	}
	out := make(Sample, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge writes every field of delta over s (shallow merge).
// The _type marker is never carried into the merged state.
func (s Sample) Merge(delta Sample) {
	for k, v := range delta {
		if k == FieldType {
			continue
		}
		s[k] = cloneValue(v)
	}
}

// IsEmpty reports whether the sample holds no fields
func (s Sample) IsEmpty() bool {
	return len(s) == 0
}

// Record is the persisted unit of the log: a full snapshot or a sparse delta
type Record struct {
	Kind   Kind
	Sample Sample
}

// NewFull creates a full record holding a copy of s
func NewFull(s Sample) Record {
	return Record{Kind: KindFull, Sample: s.Clone()}
}

// NewDelta creates a delta record holding a copy of s
func NewDelta(s Sample) Record {
	return Record{Kind: KindDelta, Sample: s.Clone()}
}

// IsDelta reports whether the record is a delta
func (r Record) IsDelta() bool {
	return r.Kind == KindDelta
}

// Timestamp parses the record's timestamp
func (r Record) Timestamp() (time.Time, error) {
	return r.Sample.Timestamp()
}

// MarshalJSON writes the record as one flat object with an explicit _type
func (r Record) MarshalJSON() ([]byte, error) {
	kind := r.Kind
	if kind == "" {
		kind = KindFull
	}
	flat := make(map[string]any, len(r.Sample)+1)
	for k, v := range r.Sample {
		flat[k] = v
	}
	flat[FieldType] = string(kind)
	return json.Marshal(flat)
}

// UnmarshalJSON reads a flat record. A missing _type means full, which keeps
// logs written before the marker became explicit readable.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if flat == nil {
		return fmt.Errorf("record is not an object")
	}

	kind := KindFull
	if raw, ok := flat[FieldType]; ok && raw != nil {
		str, _ := raw.(string)
		switch Kind(str) {
		case KindFull, "":
			kind = KindFull
		case KindDelta:
			kind = KindDelta
		default:
			return fmt.Errorf("%w: %v", ErrUnknownKind, raw)
		}
		delete(flat, FieldType)
	}

	r.Kind = kind
	r.Sample = Sample(flat)
	return nil
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds, and the
// zone-less form some firmware emits (read as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", ErrNoTimestamp, s)
}

// FormatTimestamp renders t the way the log stores timestamps
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// FormatLocalTime renders the display-only local_time field
func FormatLocalTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("02.01.2006, 15:04:05")
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
