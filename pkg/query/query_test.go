package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/solarlog/pkg/telemetry"
)

var now = time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) string {
	return telemetry.FormatTimestamp(now.Add(-d))
}

func TestFilterByTimeRange(t *testing.T) {
	log := []telemetry.Record{
		telemetry.NewFull(telemetry.Sample{"timestamp": at(3 * time.Hour), "bus_voltage": 1.0}),
		telemetry.NewDelta(telemetry.Sample{"timestamp": at(90 * time.Minute), "bus_voltage": 2.0}),
		telemetry.NewDelta(telemetry.Sample{"timestamp": at(30 * time.Minute), "bus_voltage": 3.0}),
		telemetry.NewDelta(telemetry.Sample{"timestamp": "not a time", "bus_voltage": 4.0}),
		telemetry.NewDelta(telemetry.Sample{"timestamp": at(-time.Minute), "bus_voltage": 5.0}),
	}

	got := FilterByTimeRange(log, 2, now)

	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Sample["bus_voltage"])
	assert.Equal(t, 3.0, got[1].Sample["bus_voltage"])
}

func TestFilterByTimeRange_InclusiveBoundsAndSort(t *testing.T) {
	log := []telemetry.Record{
		telemetry.NewDelta(telemetry.Sample{"timestamp": at(0), "bus_voltage": 3.0}),
		telemetry.NewFull(telemetry.Sample{"timestamp": at(time.Hour), "bus_voltage": 1.0}),
		telemetry.NewDelta(telemetry.Sample{"timestamp": at(time.Minute), "bus_voltage": 2.0}),
	}

	got := FilterByTimeRange(log, 1, now)

	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Sample["bus_voltage"])
	assert.Equal(t, 2.0, got[1].Sample["bus_voltage"])
	assert.Equal(t, 3.0, got[2].Sample["bus_voltage"])
}

func TestFilterByTimeRange_NonPositiveHours(t *testing.T) {
	log := []telemetry.Record{
		telemetry.NewFull(telemetry.Sample{"timestamp": at(0)}),
	}
	assert.Empty(t, FilterByTimeRange(log, 0, now))
	assert.Empty(t, FilterByTimeRange(log, -1, now))
}

func TestDownsample(t *testing.T) {
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	tests := []struct {
		name      string
		maxPoints int
		want      []int
	}{
		{"fits", 10, items},
		{"larger than input", 50, items},
		{"disabled", 0, items},
		{"stride 2", 5, []int{0, 2, 4, 6, 8}},
		{"stride 3", 3, []int{0, 3, 6}},
		{"stride 1 capped", 7, []int{0, 1, 2, 3, 4, 5, 6}},
		{"single", 1, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Downsample(items, tt.maxPoints))
		})
	}
}

func TestDownsample_NeverExceedsMaxPoints(t *testing.T) {
	for n := 0; n <= 120; n++ {
		items := make([]int, n)
		for maxPoints := 1; maxPoints <= 40; maxPoints++ {
			got := Downsample(items, maxPoints)
			assert.LessOrEqual(t, len(got), maxPoints, "n=%d maxPoints=%d", n, maxPoints)
			if n <= maxPoints {
				assert.Len(t, got, n)
			}
		}
	}
}

func TestWeeklyAverages_ExcludesMissingValues(t *testing.T) {
	samples := []telemetry.Sample{
		{"timestamp": at(3 * time.Hour), "battery_voltage": 50.0, "pv_input_power": 100.0},
		{"timestamp": at(2 * time.Hour), "battery_voltage": 52.0},
		{"timestamp": at(time.Hour), "battery_voltage": 54.0, "pv_input_power": nil},
		{"timestamp": at(30 * time.Minute), "battery_voltage": "n/a", "pv_input_power": 300.0},
	}

	got := WeeklyAverages(samples, []string{"battery_voltage", "pv_input_power", "ac_output_load"}, now)

	require.Contains(t, got, "battery_voltage")
	assert.InDelta(t, 52.0, got["battery_voltage"].Average, 1e-9)
	assert.Equal(t, uint64(3), got["battery_voltage"].Count)
	assert.Equal(t, 50.0, got["battery_voltage"].Min)
	assert.Equal(t, 54.0, got["battery_voltage"].Max)

	require.Contains(t, got, "pv_input_power")
	assert.InDelta(t, 200.0, got["pv_input_power"].Average, 1e-9)
	assert.Equal(t, uint64(2), got["pv_input_power"].Count)

	assert.NotContains(t, got, "ac_output_load")
}

func TestWeeklyAverages_OnlyLastSevenDays(t *testing.T) {
	samples := []telemetry.Sample{
		{"timestamp": at(8 * 24 * time.Hour), "battery_voltage": 10.0},
		{"timestamp": at(6 * 24 * time.Hour), "battery_voltage": 50.0},
		{"timestamp": at(time.Hour), "battery_voltage": 52.0},
	}

	got := WeeklyAverages(samples, []string{"battery_voltage"}, now)

	assert.InDelta(t, 51.0, got["battery_voltage"].Average, 1e-9)
	assert.Equal(t, uint64(2), got["battery_voltage"].Count)
}

func TestExtractChartSeries(t *testing.T) {
	samples := []telemetry.Sample{
		{"timestamp": at(10 * time.Second), "local_time": "08.06.2025, 13:59:50", "pv_input_power": 100.0, "bus_voltage": 400.0},
		{"timestamp": at(5 * time.Second), "local_time": "08.06.2025, 13:59:55", "bus_voltage": "401"},
	}

	got := ExtractChartSeries(samples, []string{"pv_input_power", "bus_voltage"})

	assert.Equal(t, []string{at(10 * time.Second), at(5 * time.Second)}, got.Timestamps)
	assert.Equal(t, "08.06.2025, 13:59:55", got.LocalTimes[1])

	require.Len(t, got.Series["pv_input_power"], 2)
	assert.Equal(t, 100.0, *got.Series["pv_input_power"][0])
	assert.Nil(t, got.Series["pv_input_power"][1])
	assert.Equal(t, 401.0, *got.Series["bus_voltage"][1])

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pv_input_power":[100,null]`)
}
