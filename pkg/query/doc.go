/*
Package query turns reconstructed telemetry into what the dashboard draws.

# Pipeline

A chart request walks the log in four steps:

	log (full + delta records)
	    │ FilterByTimeRange   keep [now - hours, now], ascending
	    ▼
	window records
	    │ reconstruct.Reconstruct   anchor on the nearest full record
	    ▼
	complete samples
	    │ Downsample          stride sampling, at most maxPoints
	    ▼
	ExtractChartSeries        one []*float64 per field, nil for gaps

Reconstruction runs before downsampling. Sampling the raw window first would
drop deltas whose changes later points depend on.

# Weekly statistics

WeeklyAverages looks at the last seven days only. A sample without a numeric
value for a field is left out of that field's statistics instead of counting
as zero, so a sensor that was offline for an hour does not drag the average
down. The accumulation mirrors a single time bucket aggregate: sum, count,
min and max, with the average derived at the end.
*/
package query
