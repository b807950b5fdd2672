package device

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/solarlog/pkg/device/transport"
	"github.com/nicktill/solarlog/pkg/logger"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// UploaderConfig holds configuration for the uploader
type UploaderConfig struct {
	// MaxBacklog caps samples kept while the server is unreachable; the
	// oldest are dropped first (0 = DefaultMaxBacklog)
	MaxBacklog int

	// RetryEvery is how often a non-empty backlog is retried (0 = DefaultRetryEvery)
	RetryEvery time.Duration

	// SendTimeout bounds one upload (0 = transport.DefaultTimeout)
	SendTimeout time.Duration
}

// Uploader defaults
const (
	DefaultMaxBacklog = 720
	DefaultRetryEvery = 15 * time.Second
)

// UploadStats counts what happened to queued samples
type UploadStats struct {
	Sent     uint64 `json:"sent"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
}

// Uploader sends samples in the order they were taken. Samples that fail
// with a retryable error stay queued and are retried later, so a short
// network outage leaves no gap in the log.
type Uploader struct {
	config    UploaderConfig
	transport transport.Transport
	log       *logger.Logger

	mu      sync.Mutex
	backlog []queued
	nextSeq uint64
	stats   UploadStats

	// sendMu keeps a single drain running so samples never overtake each other
	sendMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// queued is a backlog entry. seq identifies it after the backlog is trimmed.
type queued struct {
	seq    uint64
	sample telemetry.Sample
}

// NewUploader creates an uploader over t
func NewUploader(t transport.Transport, config UploaderConfig, log *logger.Logger) *Uploader {
	if config.MaxBacklog <= 0 {
		config.MaxBacklog = DefaultMaxBacklog
	}
	if config.RetryEvery <= 0 {
		config.RetryEvery = DefaultRetryEvery
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = transport.DefaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Uploader{
		config:    config,
		transport: t,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Start starts the retry loop
func (u *Uploader) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	go u.retryLoop(ctx)
}

// Stop stops the retry loop and makes a last attempt to drain the backlog
func (u *Uploader) Stop(ctx context.Context) error {
	if u.cancel != nil {
		u.cancel()
		<-u.done
	}
	return u.Flush(ctx)
}

// Add queues sample and tries to send everything queued
func (u *Uploader) Add(ctx context.Context, sample telemetry.Sample) error {
	u.enqueue(sample)
	return u.Flush(ctx)
}

// enqueue appends sample and trims the oldest entries over MaxBacklog. A
// trimmed entry may be in flight; Flush then finds it gone and leaves the
// rest of the backlog alone.
func (u *Uploader) enqueue(sample telemetry.Sample) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.nextSeq++
	u.backlog = append(u.backlog, queued{seq: u.nextSeq, sample: sample})
	if over := len(u.backlog) - u.config.MaxBacklog; over > 0 {
		u.backlog = u.backlog[over:]
		u.stats.Dropped += uint64(over)
		u.log.Warnw("upload_backlog_full", "dropped", over, "max_backlog", u.config.MaxBacklog)
	}
}

// Flush sends queued samples oldest first. It stops at the first retryable
// error and returns it; the failed sample stays at the head of the queue.
func (u *Uploader) Flush(ctx context.Context) error {
	u.sendMu.Lock()
	defer u.sendMu.Unlock()

	for {
		u.mu.Lock()
		if len(u.backlog) == 0 {
			u.mu.Unlock()
			return nil
		}
		next := u.backlog[0]
		u.mu.Unlock()

		sendCtx, cancel := context.WithTimeout(ctx, u.config.SendTimeout)
		resp, err := u.transport.Send(sendCtx, next.sample)
		cancel()

		if err != nil && transport.IsRetryable(err) {
			return err
		}

		u.mu.Lock()
		if len(u.backlog) > 0 && u.backlog[0].seq == next.seq {
			u.backlog = u.backlog[1:]
		}
		if err != nil {
			u.stats.Rejected++
		} else {
			u.stats.Sent++
		}
		u.mu.Unlock()

		if err != nil {
			u.log.Warnw("sample_rejected", "err", err)
			continue
		}
		u.log.Debugw("sample_uploaded", "status", resp.Status, "type", resp.Type, "reason", resp.Reason)
	}
}

// Stats returns upload counters
func (u *Uploader) Stats() UploadStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.stats
	s.Pending = len(u.backlog)
	return s
}

func (u *Uploader) retryLoop(ctx context.Context) {
	defer close(u.done)

	ticker := time.NewTicker(u.config.RetryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.Stats().Pending == 0 {
				continue
			}
			if err := u.Flush(ctx); err != nil {
				u.log.Debugw("upload_retry_failed", "pending", u.Stats().Pending, "err", err)
			}
		}
	}
}
