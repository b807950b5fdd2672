package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/server"
	"github.com/nicktill/solarlog/pkg/storage"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "solarlog",
	Short: "SolarLog - inverter telemetry logger",
	Long: `SolarLog receives samples from a solar inverter, stores only what
changed as a delta log, and rebuilds full readings for charts, history,
exports and the live dashboard.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default configs/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every subcommand works on
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	store storage.Storage
	eng   *engine.Engine
}

// openApp loads configuration, opens the log and rebuilds the snapshot
func openApp(ctx context.Context) (*app, error) {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logger.Get(cfg.LogLevel)

	store, err := server.InitializeStorage(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		eng:   server.InitializeEngine(ctx, cfg, store, log),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warnw("storage_close_failed", "err", err)
	}
	a.log.Sync()
}
