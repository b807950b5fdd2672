package query

import (
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// ChartSeries is the column layout the dashboard charts consume: one shared
// time axis plus one value column per field
type ChartSeries struct {
	Timestamps []string              `json:"timestamps"`
	LocalTimes []string              `json:"local_times"`
	Series     map[string][]*float64 `json:"series"`
}

// ExtractChartSeries lays samples out column-wise. A sample with no numeric
// value for a field contributes nil (JSON null), which charts draw as a gap.
func ExtractChartSeries(samples []telemetry.Sample, fields []string) ChartSeries {
	out := ChartSeries{
		Timestamps: make([]string, len(samples)),
		LocalTimes: make([]string, len(samples)),
		Series:     make(map[string][]*float64, len(fields)),
	}

	for _, field := range fields {
		out.Series[field] = make([]*float64, len(samples))
	}

	for i, s := range samples {
		out.Timestamps[i], _ = s[telemetry.FieldTimestamp].(string)
		out.LocalTimes[i], _ = s[telemetry.FieldLocalTime].(string)

		for _, field := range fields {
			if v, ok := telemetry.Float(s[field]); ok {
				out.Series[field][i] = &v
			}
		}
	}
	return out
}
