package ingest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/httpx"
)

// HandleRangeQuery returns chart series for the last `hours` hours,
// reconstructed and downsampled to at most `maxPoints` points.
func (h *Handler) HandleRangeQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()

	hours := float64(config.QueryDefaultHours)
	if v := query.Get("hours"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid hours: %q is not a number", v))
			return
		}
		if parsed <= 0 || parsed > config.QueryMaxHours {
			httpx.RespondErrorString(w, http.StatusBadRequest,
				fmt.Sprintf("hours must be greater than 0 and at most %d", config.QueryMaxHours))
			return
		}
		hours = parsed
	}

	maxPoints := config.QueryDefaultMaxPoints
	if mp := query.Get("maxPoints"); mp != "" {
		parsed, err := strconv.Atoi(mp)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid maxPoints: %q is not an integer", mp))
			return
		}
		if parsed <= 0 || parsed > config.QueryMaxPointsLimit {
			httpx.RespondErrorString(w, http.StatusBadRequest,
				fmt.Sprintf("maxPoints must be between 1 and %d", config.QueryMaxPointsLimit))
			return
		}
		maxPoints = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	res, err := h.engine.QueryRange(ctx, hours, maxPoints)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	httpx.RespondJSON(w, http.StatusOK, res)
}

// HandleHistory returns one page of reconstructed records, newest first
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()

	offset, err := intParam(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	limit, err := intParam(query.Get("limit"), config.HistoryDefaultPageSize)
	if err != nil || limit <= 0 || limit > config.HistoryMaxPageSize {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("limit must be between 1 and %d", config.HistoryMaxPageSize))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	page, err := h.engine.LoadMore(ctx, offset, limit)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("history failed: %w", err))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, page)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
