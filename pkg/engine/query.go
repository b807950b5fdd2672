package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/solarlog/pkg/query"
	"github.com/nicktill/solarlog/pkg/reconstruct"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// RangeResult is the dashboard chart payload
type RangeResult struct {
	HoursBack      float64                     `json:"hours_back"`
	From           time.Time                   `json:"from"`
	To             time.Time                   `json:"to"`
	Chart          query.ChartSeries           `json:"chart"`
	WeeklyAverages map[string]query.FieldStats `json:"weekly_averages"`
	TotalPoints    int                         `json:"total_points"`
	ReturnedPoints int                         `json:"returned_points"`
	Current        telemetry.Sample            `json:"current"`
}

// QueryRange reconstructs the last hoursBack hours, downsamples them to at
// most maxPoints and adds weekly statistics
func (e *Engine) QueryRange(ctx context.Context, hoursBack float64, maxPoints int) (*RangeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := e.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	now := e.now()
	current := e.state.Get()

	window := query.FilterByTimeRange(records, hoursBack, now)
	samples := reconstruct.Reconstruct(window, records, current)
	sampled := query.Downsample(samples, maxPoints)

	week := query.FilterByTimeRange(records, query.WeeklyWindow.Hours(), now)
	weekSamples := reconstruct.Reconstruct(week, records, current)

	return &RangeResult{
		HoursBack:      hoursBack,
		From:           now.Add(-time.Duration(hoursBack * float64(time.Hour))),
		To:             now,
		Chart:          query.ExtractChartSeries(sampled, e.chartFields),
		WeeklyAverages: query.WeeklyAverages(weekSamples, e.averageFields, now),
		TotalPoints:    len(samples),
		ReturnedPoints: len(sampled),
		Current:        current,
	}, nil
}

// Page is one page of reconstructed history, newest first
type Page struct {
	Records []telemetry.Sample `json:"records"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	Total   int                `json:"total"`
	HasMore bool               `json:"has_more"`
}

// LoadMore returns limit reconstructed records, skipping the offset newest
// ones. Records come newest first.
func (e *Engine) LoadMore(ctx context.Context, offset, limit int) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	records, err := e.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	total := len(records)
	page := &Page{Offset: offset, Limit: limit, Total: total, Records: []telemetry.Sample{}}
	if offset >= total {
		return page, nil
	}

	end := total - offset
	start := end - limit
	if start < 0 {
		start = 0
	}

	samples := reconstruct.Reconstruct(records[start:end], records, e.state.Get())
	for i := len(samples) - 1; i >= 0; i-- {
		page.Records = append(page.Records, samples[i])
	}
	page.HasMore = start > 0
	return page, nil
}
