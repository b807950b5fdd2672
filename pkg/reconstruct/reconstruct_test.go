package reconstruct

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func ts(i int) string {
	return telemetry.FormatTimestamp(base.Add(time.Duration(i) * 5 * time.Second))
}

func full(i int, fields map[string]any) telemetry.Record {
	s := telemetry.Sample{"timestamp": ts(i), "local_time": ts(i)}
	for k, v := range fields {
		s[k] = v
	}
	return telemetry.NewFull(s)
}

func delta(i int, fields map[string]any) telemetry.Record {
	s := telemetry.Sample{"timestamp": ts(i), "local_time": ts(i)}
	for k, v := range fields {
		s[k] = v
	}
	return telemetry.NewDelta(s)
}

func TestReconstruct_AnchorSearchPicksNearestFull(t *testing.T) {
	log := []telemetry.Record{
		full(0, map[string]any{"bus_voltage": 400.0, "battery_voltage": 50.0, "error": 0.0}),
		delta(1, map[string]any{"bus_voltage": 401.0}),
		full(2, map[string]any{"bus_voltage": 410.0, "battery_voltage": 53.0, "error": 0.0}),
		delta(3, map[string]any{"battery_voltage": 53.5}),
		delta(4, map[string]any{"bus_voltage": 411.0}),
	}

	got := Reconstruct(log[3:], log, nil)

	require.Len(t, got, 2)
	assert.Equal(t, 410.0, got[0]["bus_voltage"])
	assert.Equal(t, 53.5, got[0]["battery_voltage"])
	assert.Equal(t, ts(3), got[0]["timestamp"])
	assert.Equal(t, 411.0, got[1]["bus_voltage"])
	assert.Equal(t, 53.5, got[1]["battery_voltage"])
	assert.Equal(t, 0.0, got[1]["error"])
	assert.Equal(t, 2, Anchor(log, base.Add(15*time.Second)))
}

func TestReconstruct_ReplaysDeltasBetweenAnchorAndWindow(t *testing.T) {
	log := []telemetry.Record{
		full(0, map[string]any{"bus_voltage": 400.0, "battery_voltage": 50.0}),
		delta(1, map[string]any{"battery_voltage": 51.0}),
		delta(2, map[string]any{"battery_voltage": 52.0}),
		delta(3, map[string]any{"bus_voltage": 402.0}),
	}

	got := Reconstruct(log[3:], log, nil)

	require.Len(t, got, 1)
	assert.Equal(t, 402.0, got[0]["bus_voltage"])
	assert.Equal(t, 52.0, got[0]["battery_voltage"])
}

func TestReconstruct_FullRecordResetsState(t *testing.T) {
	log := []telemetry.Record{
		full(0, map[string]any{"bus_voltage": 400.0, "pv_input_power": 800.0}),
		full(1, map[string]any{"bus_voltage": 401.0}),
	}

	got := Reconstruct(log, log, nil)

	require.Len(t, got, 2)
	assert.NotContains(t, got[1], "pv_input_power")
}

func TestReconstruct_FallsBackToSnapshot(t *testing.T) {
	log := []telemetry.Record{
		delta(1, map[string]any{"bus_voltage": 401.0}),
	}
	fallback := telemetry.Sample{"bus_voltage": 390.0, "battery_voltage": 49.0}

	got := Reconstruct(log, log, fallback)

	require.Len(t, got, 1)
	assert.Equal(t, 401.0, got[0]["bus_voltage"])
	assert.Equal(t, 49.0, got[0]["battery_voltage"])
	assert.Equal(t, 390.0, fallback["bus_voltage"], "fallback must not be mutated")
}

func TestReconstruct_EmptyBaseIsPartial(t *testing.T) {
	log := []telemetry.Record{
		delta(1, map[string]any{"bus_voltage": 401.0}),
		delta(2, map[string]any{"battery_voltage": 50.0}),
	}

	got := Reconstruct(log, log, nil)

	require.Len(t, got, 2)
	assert.NotContains(t, got[0], "battery_voltage")
	assert.Equal(t, 401.0, got[1]["bus_voltage"])
	assert.Equal(t, 50.0, got[1]["battery_voltage"])
}

func TestReconstruct_OutputsAreIndependentCopies(t *testing.T) {
	log := []telemetry.Record{
		full(0, map[string]any{"bus_voltage": 400.0}),
		delta(1, map[string]any{"bus_voltage": 401.0}),
	}

	got := Reconstruct(log, log, nil)
	got[0]["bus_voltage"] = 0.0

	assert.Equal(t, 401.0, got[1]["bus_voltage"])
	assert.Equal(t, 400.0, log[0].Sample["bus_voltage"])
	assert.NotContains(t, got[1], telemetry.FieldType)
}

func TestReconstruct_EmptyTarget(t *testing.T) {
	got := Reconstruct(nil, nil, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// Property: reconstructing a whole log of one full record followed by N
// deltas agrees with the naive apply-all-deltas loop at every position.
func TestReconstruct_MatchesNaiveReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	fields := []string{"bus_voltage", "battery_voltage", "pv_input_power", "ac_output_load", "error"}

	for run := 0; run < 25; run++ {
		first := map[string]any{}
		for _, f := range fields {
			first[f] = float64(rng.Intn(500))
		}
		log := []telemetry.Record{full(0, first)}

		n := rng.Intn(40) + 1
		for i := 1; i <= n; i++ {
			changes := map[string]any{}
			for _, f := range fields {
				if rng.Intn(3) == 0 {
					changes[f] = float64(rng.Intn(500))
				}
			}
			log = append(log, delta(i, changes))
		}

		got := Reconstruct(log, log, nil)
		require.Len(t, got, len(log))

		naive := map[string]any{}
		for i, rec := range log {
			for k, v := range rec.Sample {
				naive[k] = v
			}
			for _, f := range fields {
				assert.Equal(t, naive[f], got[i][f], fmt.Sprintf("run %d position %d field %s", run, i, f))
			}
		}
		assert.Equal(t, got[len(got)-1], Replay(log))
	}
}

func TestLatest(t *testing.T) {
	t.Run("empty log", func(t *testing.T) {
		state, degraded := Latest(nil)
		assert.Empty(t, state)
		assert.False(t, degraded)
	})

	t.Run("replays from last full", func(t *testing.T) {
		log := []telemetry.Record{
			full(0, map[string]any{"bus_voltage": 300.0, "battery_voltage": 40.0}),
			full(1, map[string]any{"bus_voltage": 400.0, "battery_voltage": 50.0}),
			delta(2, map[string]any{"bus_voltage": 401.0}),
			delta(3, map[string]any{"battery_voltage": 51.0}),
		}
		state, degraded := Latest(log)
		assert.False(t, degraded)
		assert.Equal(t, 401.0, state["bus_voltage"])
		assert.Equal(t, 51.0, state["battery_voltage"])
		assert.Equal(t, ts(3), state["timestamp"])
	})

	t.Run("no full record takes last verbatim", func(t *testing.T) {
		log := []telemetry.Record{
			delta(1, map[string]any{"bus_voltage": 401.0}),
			delta(2, map[string]any{"battery_voltage": 51.0}),
		}
		state, degraded := Latest(log)
		assert.True(t, degraded)
		assert.Equal(t, 51.0, state["battery_voltage"])
		assert.NotContains(t, state, "bus_voltage")
	})
}

func TestAnchor_NoneBefore(t *testing.T) {
	log := []telemetry.Record{
		delta(0, nil),
		full(1, nil),
	}
	assert.Equal(t, -1, Anchor(log, base.Add(5*time.Second)))
	assert.Equal(t, 1, Anchor(log, base.Add(time.Hour)))
}
