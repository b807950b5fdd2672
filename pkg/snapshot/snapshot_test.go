package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

type stubReader struct {
	records []telemetry.Record
	err     error
}

func (r stubReader) ReadAll(ctx context.Context) ([]telemetry.Record, error) {
	return r.records, r.err
}

func TestState_InitializeReplaysFromLastFull(t *testing.T) {
	reader := stubReader{records: []telemetry.Record{
		telemetry.NewFull(telemetry.Sample{"timestamp": "2025-06-01T10:00:00Z", "bus_voltage": 400.0, "error": 0.0}),
		telemetry.NewDelta(telemetry.Sample{"timestamp": "2025-06-01T10:00:05Z", "bus_voltage": 401.0}),
		telemetry.NewDelta(telemetry.Sample{"timestamp": "2025-06-01T10:00:10Z", "error": 2.0}),
	}}

	s := New()
	res := s.Initialize(context.Background(), reader)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Records)
	assert.False(t, res.Degraded)
	assert.Equal(t, telemetry.Sample{
		"timestamp":   "2025-06-01T10:00:10Z",
		"bus_voltage": 401.0,
		"error":       2.0,
	}, s.Get())
}

func TestState_InitializeWithoutFullIsDegraded(t *testing.T) {
	reader := stubReader{records: []telemetry.Record{
		telemetry.NewDelta(telemetry.Sample{"timestamp": "2025-06-01T10:00:05Z", "bus_voltage": 401.0}),
	}}

	s := New()
	res := s.Initialize(context.Background(), reader)

	assert.True(t, res.Degraded)
	assert.Equal(t, 401.0, s.Get()["bus_voltage"])
}

func TestState_InitializeReadFailureStartsEmpty(t *testing.T) {
	s := New()
	s.Set(telemetry.Sample{"bus_voltage": 1.0})

	res := s.Initialize(context.Background(), stubReader{err: errors.New("corrupt")})

	assert.Error(t, res.Err)
	assert.True(t, s.IsEmpty())
}

func TestState_InitializeEmptyLog(t *testing.T) {
	s := New()
	res := s.Initialize(context.Background(), stubReader{})

	require.NoError(t, res.Err)
	assert.True(t, s.IsEmpty())
	assert.Empty(t, s.Get())
}

func TestState_SetMergeReset(t *testing.T) {
	s := New()
	assert.True(t, s.IsEmpty())

	s.Set(telemetry.Sample{"bus_voltage": 400.0, "error": 0.0, telemetry.FieldType: "full"})
	s.Merge(telemetry.Sample{"bus_voltage": 401.0})

	assert.Equal(t, telemetry.Sample{"bus_voltage": 401.0, "error": 0.0}, s.Get())

	s.Reset()
	assert.True(t, s.IsEmpty())
}

func TestState_GetReturnsCopy(t *testing.T) {
	s := New()
	s.Set(telemetry.Sample{"bus_voltage": 400.0})

	got := s.Get()
	got["bus_voltage"] = 0.0

	assert.Equal(t, 400.0, s.Get()["bus_voltage"])
}

func TestState_MergeOnEmpty(t *testing.T) {
	var s State
	s.Merge(telemetry.Sample{"bus_voltage": 401.0})
	assert.Equal(t, telemetry.Sample{"bus_voltage": 401.0}, s.Get())
}

func TestState_Apply(t *testing.T) {
	s := New()
	s.Apply(telemetry.NewFull(telemetry.Sample{"bus_voltage": 400.0, "pv_input_power": 10.0}))
	s.Apply(telemetry.NewDelta(telemetry.Sample{"bus_voltage": 402.0}))
	assert.Equal(t, telemetry.Sample{"bus_voltage": 402.0, "pv_input_power": 10.0}, s.Get())

	s.Apply(telemetry.NewFull(telemetry.Sample{"bus_voltage": 300.0}))
	assert.Equal(t, telemetry.Sample{"bus_voltage": 300.0}, s.Get())
}

func TestState_ConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			s.Merge(telemetry.Sample{"bus_voltage": v})
		}(float64(i))
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()

	assert.Contains(t, s.Get(), "bus_voltage")
}
