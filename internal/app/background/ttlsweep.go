package background

import (
	"context"
	"log/slog"
	"time"
)

const defaultTTLSweepInterval = time.Minute

// ExpirySweeper is the subset of conversation.Manager the TTL sweep
// worker drives.
type ExpirySweeper interface {
	// SweepExpired removes every conversation context past its TTL,
	// returning how many were evicted.
	SweepExpired() int
}

// TTLSweepWorker periodically evicts conversation contexts that have
// aged out, bounding the manager's memory footprint independently of
// request traffic.
type TTLSweepWorker struct {
	mgr      ExpirySweeper
	interval time.Duration
	log      *slog.Logger
}

// NewTTLSweepWorker creates a TTLSweepWorker. A non-positive interval
// falls back to defaultTTLSweepInterval, matching
// conversation.Config's own CleanupPeriod default.
func NewTTLSweepWorker(mgr ExpirySweeper, interval time.Duration, log *slog.Logger) *TTLSweepWorker {
	if interval <= 0 {
		interval = defaultTTLSweepInterval
	}
	return &TTLSweepWorker{mgr: mgr, interval: interval, log: log}
}

func (w *TTLSweepWorker) Name() string { return "ttl_sweep" }

func (w *TTLSweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.mgr.SweepExpired(); n > 0 && w.log != nil {
				w.log.Info("conversations evicted on TTL sweep", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
