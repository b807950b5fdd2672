package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/nicktill/solarlog/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 2 * time.Minute
	shutdownTimeout    = 30 * time.Second
	tasksStopTimeout   = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SolarLog server",
	Long:  `Start the HTTP server that receives inverter samples and serves the dashboard API.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Infow("solarlog_starting",
		"backend", a.cfg.Storage.Backend,
		"stream", a.cfg.Storage.Stream,
		"data_dir", a.cfg.DataDir,
		"max_storage_gb", a.cfg.Storage.MaxStorageGB)

	h, err := server.InitializeHandlers(a.cfg, a.eng, a.log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		h.Hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		server.BroadcastState(ctx, a.eng, h.Hub, a.log)
	}()
	go func() {
		defer wg.Done()
		server.RunBadgerGC(ctx, a.store, a.log)
	}()

	router := mux.NewRouter()
	server.SetupRoutes(router, h, a.cfg.Port, a.log)

	srv := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infow("server_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case sig := <-quit:
		a.log.Infow("shutdown_signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	}

	// Cancel first so the hub and tasks stop before wg.Wait
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warnw("server_shutdown_failed", "err", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.log.Infow("background_tasks_stopped")
	case <-time.After(tasksStopTimeout):
		a.log.Warnw("background_tasks_timeout", "timeout", tasksStopTimeout)
	}

	a.log.Infow("solarlog_stopped")
	return serveErr
}
