package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/solarlog/pkg/httpx"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/server/monitor"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Ingest  monitor.IngestStatus `json:"ingest"`
	Clients int                  `json:"websocket_clients"`
}

// handleHealth reports unhealthy when samples keep failing to reach the log.
// A silent device is reported as stale but does not fail the check.
func handleHealth(h *Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		statusCode := http.StatusOK

		if !h.Health.IsHealthy() {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:  status,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Ingest:  h.Health.Status(),
			Clients: h.Hub.ClientCount(),
		})
	}
}

// handleStorageUsage returns disk usage of the data directory
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := sm.Snapshot()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, h *Handlers, port string, log *logger.Logger) {
	router.Use(logMiddleware(log))
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Device upload and live state
	api.HandleFunc("/ingest", h.Ingest.HandleIngest).Methods("POST")
	api.HandleFunc("/current", h.Ingest.HandleCurrent).Methods("GET")
	api.HandleFunc("/snapshot/reset", h.Ingest.HandleSnapshotReset).Methods("POST")
	api.HandleFunc("/snapshot/reload", h.Ingest.HandleSnapshotReload).Methods("POST")

	// Dashboard queries
	api.HandleFunc("/query/range", h.Ingest.HandleRangeQuery).Methods("GET")
	api.HandleFunc("/history", h.Ingest.HandleHistory).Methods("GET")

	// Metadata and stats
	api.HandleFunc("/stats", h.Ingest.HandleStats).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(h.Storage)).Methods("GET")
	api.HandleFunc("/health", handleHealth(h)).Methods("GET")

	// WebSocket for live state
	api.HandleFunc("/ws", h.Ingest.HandleWebSocket(h.Hub)).Methods("GET")

	// Export/import
	api.HandleFunc("/export", h.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", h.Export.HandleImport).Methods("POST")

	// Scrape target
	router.HandleFunc("/metrics", h.Ingest.HandlePrometheusMetrics).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) mux.MiddlewareFunc {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// logMiddleware logs one line per request. The websocket route is logged
// when the connection closes.
func logMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.Debugw("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
				"ip", r.RemoteAddr)
		})
	}
}

// responseWriter captures the status code. Hijack is passed through so the
// websocket upgrade still works behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
