package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/export"
	"github.com/nicktill/solarlog/pkg/httpx"
	"github.com/nicktill/solarlog/pkg/ingest"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/server/monitor"
	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/storage/badger"
	"github.com/nicktill/solarlog/pkg/storage/file"
	"github.com/nicktill/solarlog/pkg/storage/memory"
	"github.com/nicktill/solarlog/pkg/storage/sqlite"
)

// LoadConfig loads configuration and makes sure the data directory exists
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend != config.BackendMemory {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return cfg, nil
}

// InitializeStorage opens the log backend selected in the configuration
func InitializeStorage(cfg *config.Config, log *logger.Logger) (storage.Storage, error) {
	log.Infow("storage_opening", "backend", cfg.Storage.Backend, "stream", cfg.Storage.Stream)

	var (
		store storage.Storage
		err   error
	)
	switch cfg.Storage.Backend {
	case config.BackendFile:
		store, err = file.New(file.Config{
			Path:     cfg.LogPath(),
			CacheTTL: cfg.Storage.CacheTTL,
			Pretty:   cfg.Storage.Pretty,
		})
	case config.BackendMemory:
		store = memory.New()
	case config.BackendBadger:
		store, err = badger.New(badger.Config{
			Path:        filepath.Join(cfg.DataDir, "badger"),
			Stream:      cfg.Storage.Stream,
			MaxMemoryMB: cfg.Storage.MaxMemoryMB,
		})
	case config.BackendSQLite:
		store, err = sqlite.New(sqlite.Config{
			Path:   filepath.Join(cfg.DataDir, cfg.Storage.Stream+".db"),
			Stream: cfg.Storage.Stream,
		})
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Infow("storage_opened", "backend", cfg.Storage.Backend)
	return store, nil
}

// InitializeEngine creates the engine and rebuilds the snapshot from the log.
// A failed rebuild is logged and leaves the snapshot empty.
func InitializeEngine(ctx context.Context, cfg *config.Config, store storage.Storage, log *logger.Logger) *engine.Engine {
	eng := engine.New(store, engine.Options{
		Codec:         cfg.CodecOptions(),
		AverageFields: cfg.Query.AverageFields,
		ChartFields:   cfg.ChartFields(),
		Logger:        log,
	})
	eng.Initialize(ctx)
	return eng
}

// Handlers groups everything SetupRoutes mounts
type Handlers struct {
	Ingest  *ingest.Handler
	Export  *export.Handler
	Hub     *ingest.StateHub
	Storage *monitor.StorageMonitor
	Health  *monitor.IngestMonitor
}

// InitializeHandlers creates and wires all request handlers
func InitializeHandlers(cfg *config.Config, eng *engine.Engine, log *logger.Logger) (*Handlers, error) {
	httpx.SetLogger(log)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes())
	ingestMonitor := monitor.NewIngestMonitor(monitor.DefaultStaleAfter)
	hub := ingest.NewStateHub(log)

	ingestHandler := ingest.NewHandler(eng, log, loc)
	if cfg.Storage.Backend != config.BackendMemory {
		ingestHandler.SetStorageChecker(storageMonitor)
	}
	ingestHandler.SetIngestRecorder(ingestMonitor)
	ingestHandler.SetHub(hub)

	exportHandler := export.NewHandler(eng, log, cfg.Storage.Stream, cfg.ChartFields())

	log.Infow("handlers_ready",
		"max_storage_bytes", cfg.MaxStorageBytes(),
		"tracked_fields", len(eng.TrackedFields()),
		"timezone", loc.String())

	return &Handlers{
		Ingest:  ingestHandler,
		Export:  exportHandler,
		Hub:     hub,
		Storage: storageMonitor,
		Health:  ingestMonitor,
	}, nil
}
