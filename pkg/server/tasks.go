package server

import (
	"context"
	"time"

	"github.com/nicktill/solarlog/pkg/config"
	"github.com/nicktill/solarlog/pkg/engine"
	"github.com/nicktill/solarlog/pkg/ingest"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/storage/badger"
)

// maxBroadcastBackoff caps how long broadcast errors are kept out of the log
const maxBroadcastBackoff = 5 * time.Minute

// BroadcastState periodically pushes the live snapshot to websocket clients,
// so dashboards that missed an ingest message still converge. Uses
// exponential backoff on errors to prevent log spam.
func BroadcastState(ctx context.Context, eng *engine.Engine, hub *ingest.StateHub, log *logger.Logger) {
	ticker := time.NewTicker(config.StateBroadcastInterval)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			current := eng.Current()
			if len(current) == 0 {
				continue
			}

			err := hub.Broadcast(ingest.StateUpdate{Type: "state", State: current})
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at maxBroadcastBackoff
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBroadcastBackoff {
					backoff = maxBroadcastBackoff
				}

				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Warnw("state_broadcast_failed",
						"consecutive_errors", consecutiveErrors,
						"backoff", backoff,
						"err", err)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Infow("state_broadcast_recovered", "after_errors", consecutiveErrors)
				consecutiveErrors = 0
			}
		}
	}
}

// RunBadgerGC runs value log garbage collection periodically. It returns
// immediately when the store is not badger.
func RunBadgerGC(ctx context.Context, store storage.Storage, log *logger.Logger) {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Debugw("badger_gc_skipped", "reason", "storage is not badger")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Infow("badger_gc_started", "interval", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Discard ratio 0.5: rewrite a value log file once half of it is garbage.
			// An error here normally means nothing needed rewriting.
			err := badgerStore.RunGC(0.5)
			log.Debugw("badger_gc_finished",
				"duration", time.Since(start).Round(time.Millisecond),
				"reclaimed", err == nil)
		case <-ctx.Done():
			log.Infow("badger_gc_stopped")
			return
		}
	}
}
