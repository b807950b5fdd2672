package ingest

import (
	"fmt"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// Per-request validation limits
const (
	MaxFieldNameLength   = 128  // Maximum field name length
	MaxStringValueLength = 1024 // Maximum string value length
)

var (
	// ErrEmptySample is returned when a request carries no fields
	ErrEmptySample = fmt.Errorf("sample has no fields")

	// ErrTooManyFields is returned when a sample has too many fields
	ErrTooManyFields = fmt.Errorf("too many fields (max %d)", config.IngestMaxFields)

	// ErrFieldNameEmpty is returned for a "" key
	ErrFieldNameEmpty = fmt.Errorf("field name cannot be empty")

	// ErrFieldNameTooLong is returned when a field name is too long
	ErrFieldNameTooLong = fmt.Errorf("field name too long (max %d chars)", MaxFieldNameLength)

	// ErrValueTooLong is returned when a string value is too long
	ErrValueTooLong = fmt.Errorf("string value too long (max %d chars)", MaxStringValueLength)

	// ErrReservedField is returned when a device sends the record type marker
	ErrReservedField = fmt.Errorf("field %q is reserved", telemetry.FieldType)

	// ErrNestedValue is returned for object or array values
	ErrNestedValue = fmt.Errorf("nested values are not supported")
)

// ValidateSample checks a decoded sample against the request limits.
// Semantic checks (timestamp, tracked fields) are left to the engine.
func ValidateSample(s telemetry.Sample) error {
	if len(s) == 0 {
		return ErrEmptySample
	}
	if len(s) > config.IngestMaxFields {
		return fmt.Errorf("%w: sample has %d fields", ErrTooManyFields, len(s))
	}

	for k, v := range s {
		if k == "" {
			return ErrFieldNameEmpty
		}
		if len(k) > MaxFieldNameLength {
			return fmt.Errorf("%w: %q has %d chars", ErrFieldNameTooLong, k, len(k))
		}
		if k == telemetry.FieldType {
			return ErrReservedField
		}

		switch val := v.(type) {
		case string:
			if len(val) > MaxStringValueLength {
				return fmt.Errorf("%w: field %q", ErrValueTooLong, k)
			}
		case map[string]any, []any:
			return fmt.Errorf("%w: field %q", ErrNestedValue, k)
		}
	}
	return nil
}
