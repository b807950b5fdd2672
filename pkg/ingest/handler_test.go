package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/storage/memory"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *memory.Storage) {
	t.Helper()
	store := memory.New()
	eng := engine.New(store, engine.Options{Now: func() time.Time { return testNow }})
	eng.Initialize(context.Background())

	h := NewHandler(eng, nil, time.UTC)
	h.now = func() time.Time { return testNow }
	return h, store
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestHandleIngest_StoresAndSkips(t *testing.T) {
	h, store := newTestHandler(t)

	sample := map[string]any{
		"timestamp":   "2025-06-01T11:59:00.000Z",
		"bus_voltage": 400,
		"error":       0,
	}

	rr := postJSON(t, h.HandleIngest, "/v1/ingest", sample)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "stored", resp["status"])
	assert.Equal(t, "full", resp["type"])
	assert.Equal(t, 1.0, resp["record_count"])

	rr = postJSON(t, h.HandleIngest, "/v1/ingest", sample)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "skipped", resp["status"])
	assert.Equal(t, true, resp["skipped"])

	records, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestHandleIngest_StampsMissingTimestamps(t *testing.T) {
	h, store := newTestHandler(t)

	rr := postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	records, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2025-06-01T12:00:00.000Z", records[0].Sample[telemetry.FieldTimestamp])
	assert.Equal(t, "01.06.2025, 12:00:00", records[0].Sample[telemetry.FieldLocalTime])
}

func TestHandleIngest_KeepsDeviceTimestamps(t *testing.T) {
	h, store := newTestHandler(t)

	rr := postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{
		"timestamp":   "2025-06-01T08:00:00.000Z",
		"local_time":  "device clock",
		"bus_voltage": 400,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	records, _ := store.ReadAll(context.Background())
	require.Len(t, records, 1)
	assert.Equal(t, "2025-06-01T08:00:00.000Z", records[0].Sample[telemetry.FieldTimestamp])
	assert.Equal(t, "device clock", records[0].Sample[telemetry.FieldLocalTime])
}

func TestHandleIngest_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid json", `{"bus_voltage":`, "invalid JSON"},
		{"empty object", `{}`, "no fields"},
		{"reserved field", `{"bus_voltage":1,"_type":"delta"}`, "reserved"},
		{"nested value", `{"bus_voltage":{"a":1}}`, "nested"},
		{"no tracked field", `{"firmware":"1.0"}`, "no tracked field"},
		{"bad timestamp", `{"timestamp":"soon","bus_voltage":1}`, "invalid sample"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newTestHandler(t)

			req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.HandleIngest(rr, req)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Contains(t, resp["message"], tt.message)

			records, _ := store.ReadAll(context.Background())
			assert.Empty(t, records)
		})
	}
}

func TestHandleIngest_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ingest", nil)
	rr := httptest.NewRecorder()
	h.HandleIngest(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type fakeChecker struct {
	usage int64
	limit int64
	err   error
}

func (f fakeChecker) GetUsage() (int64, error) { return f.usage, f.err }
func (f fakeChecker) GetLimit() int64          { return f.limit }

func TestHandleIngest_StorageLimit(t *testing.T) {
	h, _ := newTestHandler(t)
	h.SetStorageChecker(fakeChecker{usage: 2048, limit: 1024})

	rr := postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	assert.Equal(t, http.StatusInsufficientStorage, rr.Code)

	// A failing usage check does not block ingestion
	h.SetStorageChecker(fakeChecker{err: errors.New("stat failed"), limit: 1024})
	rr = postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleIngest_BroadcastsStoredSamples(t *testing.T) {
	h, _ := newTestHandler(t)
	hub := NewStateHub(nil)
	h.SetHub(hub)

	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})

	// Only the stored sample is queued; the skip is not
	require.Len(t, hub.broadcast, 1)
	var update StateUpdate
	require.NoError(t, json.Unmarshal(<-hub.broadcast, &update))
	assert.Equal(t, "ingest", update.Type)
	assert.Equal(t, "full", update.Kind)
	assert.Equal(t, 1, update.Count)
}

func TestHandleCurrentAndSnapshotReset(t *testing.T) {
	h, _ := newTestHandler(t)
	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})

	req := httptest.NewRequest(http.MethodGet, "/v1/current", nil)
	rr := httptest.NewRecorder()
	h.HandleCurrent(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var current map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &current))
	assert.Equal(t, 400.0, current["bus_voltage"])

	rr = postJSON(t, h.HandleSnapshotReset, "/v1/snapshot/reset", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SnapshotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "reset", resp.Status)
	assert.Empty(t, resp.State)
}

func TestHandleSnapshotReload(t *testing.T) {
	h, _ := newTestHandler(t)
	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	postJSON(t, h.HandleSnapshotReset, "/v1/snapshot/reset", nil)

	rr := postJSON(t, h.HandleSnapshotReload, "/v1/snapshot/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SnapshotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "reloaded", resp.Status)
	assert.Equal(t, 1, resp.Records)
	assert.Equal(t, 400.0, resp.State["bus_voltage"])
}

func TestHandleStats(t *testing.T) {
	h, _ := newTestHandler(t)
	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rr := httptest.NewRecorder()
	h.HandleStats(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats engine.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, "memory", stats.Storage.Backend)
	assert.Equal(t, uint64(1), stats.Storage.TotalRecords)
	assert.Equal(t, uint64(1), stats.Ingested.Full)
}

func TestValidateSample(t *testing.T) {
	long := strings.Repeat("x", MaxFieldNameLength+1)

	tests := []struct {
		name   string
		sample telemetry.Sample
		want   error
	}{
		{"valid", telemetry.Sample{"bus_voltage": 1.0, "mode": "line"}, nil},
		{"empty", telemetry.Sample{}, ErrEmptySample},
		{"empty key", telemetry.Sample{"": 1.0}, ErrFieldNameEmpty},
		{"long key", telemetry.Sample{long: 1.0}, ErrFieldNameTooLong},
		{"long value", telemetry.Sample{"mode": strings.Repeat("x", MaxStringValueLength+1)}, ErrValueTooLong},
		{"array", telemetry.Sample{"cells": []any{1.0, 2.0}}, ErrNestedValue},
		{"type marker", telemetry.Sample{"_type": "full"}, ErrReservedField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSample(tt.sample)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateSample_TooManyFields(t *testing.T) {
	s := telemetry.Sample{}
	for i := 0; i < 300; i++ {
		s[fmt.Sprintf("field_%d", i)] = 1.0
	}
	assert.ErrorIs(t, ValidateSample(s), ErrTooManyFields)
}

type countingRecorder struct {
	successes int
	failures  int
}

func (c *countingRecorder) RecordSuccess()      { c.successes++ }
func (c *countingRecorder) RecordFailure(error) { c.failures++ }

type brokenStore struct {
	*memory.Storage
}

func (brokenStore) Append(context.Context, telemetry.Record) (int, error) {
	return 0, errors.New("read-only file system")
}

func TestHandleIngest_RecordsOutcomes(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := &countingRecorder{}
	h.SetIngestRecorder(rec)

	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	// Rejected samples never reach storage and are not counted
	postJSON(t, h.HandleIngest, "/v1/ingest", map[string]any{"firmware": "1"})
	assert.Equal(t, 2, rec.successes)
	assert.Zero(t, rec.failures)

	eng := engine.New(brokenStore{memory.New()}, engine.Options{})
	eng.Initialize(context.Background())
	broken := NewHandler(eng, nil, time.UTC)
	broken.SetIngestRecorder(rec)

	rr := postJSON(t, broken.HandleIngest, "/v1/ingest", map[string]any{"bus_voltage": 400})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 1, rec.failures)
}
