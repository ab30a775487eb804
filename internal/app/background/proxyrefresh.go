package background

import (
	"context"
	"log/slog"
	"time"
)

const defaultProxyRefreshInterval = 300 * time.Second

// ProxyRefresher is the subset of proxypool.Pool the proxy-refresh
// worker drives.
type ProxyRefresher interface {
	// Refresh rotates the egress proxy, forcing a rotation when force
	// is true regardless of the pool's own staleness check.
	Refresh(ctx context.Context, force bool) (string, error)
}

// ProxyRefreshWorker periodically rotates the egress proxy so a single
// proxy URL is never pinned for the lifetime of the process, mirroring
// the bound the Python original placed on proxy age via
// PROXY_REFRESH_INTERVAL.
type ProxyRefreshWorker struct {
	pool     ProxyRefresher
	interval time.Duration
	log      *slog.Logger
}

// NewProxyRefreshWorker creates a ProxyRefreshWorker. A non-positive
// interval falls back to defaultProxyRefreshInterval, matching
// proxypool.Config's own RefreshInterval default.
func NewProxyRefreshWorker(pool ProxyRefresher, interval time.Duration, log *slog.Logger) *ProxyRefreshWorker {
	if interval <= 0 {
		interval = defaultProxyRefreshInterval
	}
	return &ProxyRefreshWorker{pool: pool, interval: interval, log: log}
}

func (w *ProxyRefreshWorker) Name() string { return "proxy_refresh" }

// Run forces a rotation every tick; the pool's own Refresh still owns
// the decision of whether a fresh fetch is actually needed when force
// is false, but this worker always passes true since its entire job is
// periodic rotation, not staleness-gated refresh (that path is already
// exercised inline by Pool.Get).
func (w *ProxyRefreshWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.pool.Refresh(ctx, true); err != nil && w.log != nil {
				w.log.Warn("scheduled proxy refresh failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
