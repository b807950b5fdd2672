package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/httpx"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// StorageChecker reports disk usage so ingestion can stop before the disk fills
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// IngestRecorder is told about every ingest that reached the engine
type IngestRecorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Handler serves the device-facing and dashboard-facing telemetry endpoints
type Handler struct {
	engine         *engine.Engine
	hub            *StateHub
	log            *logger.Logger
	loc            *time.Location
	now            func() time.Time
	storageChecker StorageChecker
	recorder       IngestRecorder
}

// NewHandler creates a handler over eng. loc is the zone used for
// local_time when a device omits it; nil means UTC.
func NewHandler(eng *engine.Engine, log *logger.Logger, loc *time.Location) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		engine: eng,
		log:    log,
		loc:    loc,
		now:    time.Now,
	}
}

// SetStorageChecker enables the disk limit check on ingest
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// SetIngestRecorder reports ingest outcomes to a health monitor
func (h *Handler) SetIngestRecorder(recorder IngestRecorder) {
	h.recorder = recorder
}

// SetHub makes every stored sample visible to websocket clients
func (h *Handler) SetHub(hub *StateHub) {
	h.hub = hub
}

// IngestResponse is returned for every accepted sample
type IngestResponse struct {
	Status string `json:"status"`
	*engine.IngestResult
}

// HandleIngest accepts one telemetry sample from the device
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.storageChecker != nil {
		usage, err := h.storageChecker.GetUsage()
		if err != nil {
			h.log.Warnw("storage_usage_check_failed", "err", err)
		} else if limit := h.storageChecker.GetLimit(); limit > 0 && usage >= limit {
			httpx.RespondErrorString(w, http.StatusInsufficientStorage,
				fmt.Sprintf("storage limit reached (%d of %d bytes)", usage, limit))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.IngestMaxBodySize)

	var sample telemetry.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if err := ValidateSample(sample); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	h.stamp(sample)

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	res, err := h.engine.Ingest(ctx, sample)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidSample) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		h.log.Errorw("ingest_failed", "err", err)
		if h.recorder != nil {
			h.recorder.RecordFailure(err)
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordSuccess()
	}

	if h.hub != nil && !res.Skipped {
		h.hub.Broadcast(StateUpdate{
			Type:   "ingest",
			Kind:   string(res.Kind),
			Reason: res.Reason,
			Count:  res.RecordCount,
			State:  res.State,
		})
	}

	status := "stored"
	if res.Skipped {
		status = "skipped"
	}
	httpx.RespondJSON(w, http.StatusOK, IngestResponse{Status: status, IngestResult: res})
}

// stamp fills the timestamp fields a device left out with server time
func (h *Handler) stamp(sample telemetry.Sample) {
	now := h.now()
	if _, ok := sample[telemetry.FieldTimestamp]; !ok {
		sample[telemetry.FieldTimestamp] = telemetry.FormatTimestamp(now)
	}
	if _, ok := sample[telemetry.FieldLocalTime]; !ok {
		sample[telemetry.FieldLocalTime] = telemetry.FormatLocalTime(now, h.loc)
	}
}

// HandleCurrent returns the live snapshot
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.engine.Current())
}

// HandleStats returns storage statistics and ingest counters
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	stats, err := h.engine.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

// SnapshotResponse reports the snapshot after a reset or reload
type SnapshotResponse struct {
	Status   string           `json:"status"`
	Records  int              `json:"records"`
	Degraded bool             `json:"degraded,omitempty"`
	State    telemetry.Sample `json:"state"`
}

// HandleSnapshotReset clears the snapshot so the next sample is stored in full
func (h *Handler) HandleSnapshotReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	h.engine.ResetSnapshot()
	httpx.RespondJSON(w, http.StatusOK, SnapshotResponse{Status: "reset", State: h.engine.Current()})
}

// HandleSnapshotReload rebuilds the snapshot from the persisted log
func (h *Handler) HandleSnapshotReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	res := h.engine.ReloadSnapshot(ctx)
	if res.Err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("reload failed: %w", res.Err))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, SnapshotResponse{
		Status:   "reloaded",
		Records:  res.Records,
		Degraded: res.Degraded,
		State:    h.engine.Current(),
	})
}
