package background

import (
	"context"
	"log/slog"
	"time"
)

const defaultCooldownProbeInterval = 10 * time.Second

// CoolingPool is the subset of tokenpool.Pool the cooldown probe drives.
type CoolingPool interface {
	// RefreshCooling flips tokens whose cooldown deadline (or error-count
	// thaw counter) has elapsed back to active, returning how many
	// recovered.
	RefreshCooling() int
}

// CooldownProbeWorker periodically recovers tokens whose cooldown window
// has elapsed, so a token doesn't sit idle in COOLING state waiting for
// the next request to notice.
type CooldownProbeWorker struct {
	pool     CoolingPool
	interval time.Duration
	log      *slog.Logger
}

// NewCooldownProbeWorker creates a CooldownProbeWorker. A non-positive
// interval falls back to defaultCooldownProbeInterval.
func NewCooldownProbeWorker(pool CoolingPool, interval time.Duration, log *slog.Logger) *CooldownProbeWorker {
	if interval <= 0 {
		interval = defaultCooldownProbeInterval
	}
	return &CooldownProbeWorker{pool: pool, interval: interval, log: log}
}

func (w *CooldownProbeWorker) Name() string { return "cooldown_probe" }

func (w *CooldownProbeWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.pool.RefreshCooling(); n > 0 && w.log != nil {
				w.log.Info("tokens recovered from cooldown", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
