package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

const metricPrefix = "solarlog_"

// HandlePrometheusMetrics exports the live snapshot and ingest counters in
// Prometheus text format so Grafana or Prometheus can scrape the inverter.
//
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (h *Handler) HandlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeSnapshotMetrics(w, h.engine.Current())
	writeCounterMetrics(w, h.engine.Counts())

	stats, err := h.engine.Stats(ctx)
	if err != nil {
		h.log.Warnw("prometheus_stats_failed", "err", err)
		return
	}
	writeFamily(w, "log_records", "gauge", "Records in the telemetry log by kind", []promSample{
		{labels: map[string]string{"kind": string(telemetry.KindFull)}, value: float64(stats.Storage.FullRecords)},
		{labels: map[string]string{"kind": string(telemetry.KindDelta)}, value: float64(stats.Storage.DeltaRecords)},
	})
	writeFamily(w, "log_size_bytes", "gauge", "Size of the telemetry log", []promSample{
		{value: float64(stats.Storage.SizeBytes)},
	})
}

type promSample struct {
	labels map[string]string
	value  float64
	ts     int64
}

// writeSnapshotMetrics writes every numeric snapshot field as one series of
// the solarlog_field family
func writeSnapshotMetrics(w io.Writer, current telemetry.Sample) {
	if len(current) == 0 {
		return
	}

	var ts int64
	if t, err := current.Timestamp(); err == nil {
		ts = t.UnixMilli()
	}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	samples := make([]promSample, 0, len(names))
	for _, name := range names {
		if name == telemetry.FieldTimestamp || name == telemetry.FieldLocalTime {
			continue
		}
		v, ok := telemetry.Float(current[name])
		if !ok {
			continue
		}
		samples = append(samples, promSample{
			labels: map[string]string{"field": name},
			value:  v,
			ts:     ts,
		})
	}
	writeFamily(w, "field", "gauge", "Latest inverter reading", samples)
}

func writeCounterMetrics(w io.Writer, counts engine.IngestCounts) {
	writeFamily(w, "samples_total", "counter", "Samples received by outcome", []promSample{
		{labels: map[string]string{"outcome": "full"}, value: float64(counts.Full)},
		{labels: map[string]string{"outcome": "delta"}, value: float64(counts.Delta)},
		{labels: map[string]string{"outcome": "skip"}, value: float64(counts.Skipped)},
		{labels: map[string]string{"outcome": "failed"}, value: float64(counts.Failed)},
	})
}

// writeFamily writes one metric family: HELP, TYPE, then its samples
func writeFamily(w io.Writer, name, typ, help string, samples []promSample) {
	if len(samples) == 0 {
		return
	}
	name = metricPrefix + name

	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)

	for _, s := range samples {
		// Format: metric_name{label="value"} value [timestamp]
		fmt.Fprintf(w, "%s%s %s", name, formatPrometheusLabels(s.labels), strconv.FormatFloat(s.value, 'g', -1, 64))
		if s.ts > 0 {
			fmt.Fprintf(w, " %d", s.ts)
		}
		fmt.Fprintf(w, "\n")
	}

	// Empty line between metric families
	fmt.Fprintf(w, "\n")
}

// formatPrometheusLabels formats labels in Prometheus format: {key="value",key2="value2"}
func formatPrometheusLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, k, escapePrometheusValue(labels[k])))
	}

	return "{" + strings.Join(pairs, ",") + "}"
}

// escapePrometheusValue escapes backslash, double-quote and line feed in label values
func escapePrometheusValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
