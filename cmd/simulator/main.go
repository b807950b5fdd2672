package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/solarlog/pkg/device"
	"github.com/nicktill/solarlog/pkg/device/transport"
	"github.com/nicktill/solarlog/pkg/logger"
)

var flags struct {
	endpoint   string
	interval   time.Duration
	seed       int64
	faultEvery int
	timezone   string
	logLevel   string
	backfill   time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Simulated inverter posting samples to SolarLog",
	Long: `simulator behaves like the field device: it reads a (simulated)
inverter on a fixed interval and posts every reading to /v1/ingest,
queueing readings while the server is unreachable.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.endpoint, "endpoint", "http://localhost:8080/v1/ingest", "ingest endpoint")
	f.DurationVar(&flags.interval, "interval", 5*time.Second, "time between readings")
	f.Int64Var(&flags.seed, "seed", time.Now().UnixNano(), "random seed")
	f.IntVar(&flags.faultEvery, "fault-every", 0, "raise an error code every n readings (0 = never)")
	f.StringVar(&flags.timezone, "timezone", "Local", "zone for local_time and the sun curve")
	f.StringVar(&flags.logLevel, "log-level", logger.InfoLevel, "log level")
	f.DurationVar(&flags.backfill, "backfill", 0, "first post readings for this much past time, then go live")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.Get(flags.logLevel)
	defer log.Sync()

	loc := time.Local
	if flags.timezone != "Local" {
		var err error
		if loc, err = time.LoadLocation(flags.timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}

	trans, err := transport.NewHTTP(flags.endpoint)
	if err != nil {
		return err
	}

	inv := device.NewInverter(device.InverterConfig{
		FaultEvery: flags.faultEvery,
		Seed:       flags.seed,
		Location:   loc,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader := device.NewUploader(trans, device.UploaderConfig{}, log)
	uploader.Start(ctx)

	log.Infow("simulator_started", "endpoint", flags.endpoint, "interval", flags.interval, "seed", flags.seed)

	if flags.backfill > 0 {
		start := time.Now().Add(-flags.backfill)
		n := 0
		for at := start; at.Before(time.Now()) && ctx.Err() == nil; at = at.Add(flags.interval) {
			uploader.Add(ctx, inv.Sample(at))
			n++
		}
		log.Infow("backfill_finished", "readings", n, "stats", uploader.Stats())
	}

	ticker := time.NewTicker(flags.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), transport.DefaultTimeout)
			defer cancel()
			if err := uploader.Stop(stopCtx); err != nil {
				log.Warnw("final_flush_failed", "pending", uploader.Stats().Pending, "err", err)
			}
			log.Infow("simulator_stopped", "stats", uploader.Stats())
			return nil
		case now := <-ticker.C:
			if err := uploader.Add(ctx, inv.Sample(now)); err != nil {
				log.Warnw("upload_failed", "pending", uploader.Stats().Pending, "err", err)
			}
		}
	}
}
