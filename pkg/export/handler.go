package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/httpx"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	log      *logger.Logger
	name     string
	fields   []string
}

// NewHandler creates a new export/import handler. name prefixes download
// file names (normally the stream name); fields are the CSV columns.
func NewHandler(eng *engine.Engine, log *logger.Logger, name string, fields []string) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if name == "" {
		name = config.DefaultStream
	}
	return &Handler{
		exporter: NewExporter(eng),
		importer: NewImporter(eng, log),
		log:      log,
		name:     name,
		fields:   fields,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "raw", "json" or "csv" (default: raw)
//   - start, end: timestamps bounding json and csv exports (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = FormatRaw
	}
	if format != FormatRaw && format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'raw', 'json' or 'csv'")
		return
	}

	opts := ExportOptions{Fields: h.fields}
	var err error
	if opts.Start, err = parseTimeParam(query.Get("start")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid start: %w", err))
		return
	}
	if opts.End, err = parseTimeParam(query.Get("end")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
		return
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && opts.End.Before(opts.Start) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "end must not be before start")
		return
	}
	if format == FormatCSV {
		if f := query.Get("fields"); f != "" {
			opts.Fields = strings.Split(f, ",")
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ImportTimeout)
	defer cancel()

	// Render into a buffer so a failure can still produce a JSON error
	var buf bytes.Buffer
	var result *ExportResult
	switch format {
	case FormatRaw:
		result, err = h.exporter.ExportRaw(ctx, &buf)
	case FormatJSON:
		result, err = h.exporter.ExportToJSON(ctx, &buf, opts)
	case FormatCSV:
		result, err = h.exporter.ExportToCSV(ctx, &buf, opts)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		h.log.Errorw("export_failed", "format", format, "err", err)
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	ext, contentType := "json", "application/json"
	if format == FormatCSV {
		ext, contentType = "csv", "text/csv"
	}
	filename := fmt.Sprintf("%s-%s-%s.%s", h.name, format, time.Now().Format("20060102-150405"), ext)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)

	size := buf.Len()
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warnw("export_write_failed", "err", err)
		return
	}

	h.log.Infow("export_finished", "format", format, "samples", result.SamplesExported, "bytes", size)
}

// HandleImport handles POST /v1/import. It accepts a JSON export document
// or a raw log and re-ingests it through the codec.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.ImportMaxBodySize)

	ctx, cancel := context.WithTimeout(r.Context(), config.ImportTimeout)
	defer cancel()

	result, err := h.importer.Import(ctx, r.Body)
	if err != nil {
		status := http.StatusInternalServerError
		if result == nil {
			// Nothing was ingested: the body itself is bad
			status = http.StatusBadRequest
		}
		httpx.RespondError(w, status, fmt.Errorf("import failed: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses an optional timestamp parameter
func parseTimeParam(param string) (time.Time, error) {
	if param == "" {
		return time.Time{}, nil
	}
	return telemetry.ParseTimestamp(param)
}
