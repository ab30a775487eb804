package background

import (
	"context"
	"log/slog"
	"time"
)

const defaultMetricsSampleInterval = 15 * time.Second

// PoolSizer is the subset of tokenpool.Pool the metrics sampler reads.
type PoolSizer interface {
	Sizes() map[string]int
}

// ConversationCounter is the subset of conversation.Manager the metrics
// sampler reads.
type ConversationCounter interface {
	Count() int
}

// GaugeSink is the subset of metrics.Collector the sampler writes to,
// kept narrow so this package need not import prometheus types.
type GaugeSink interface {
	SetTokenPoolSize(pool string, n int)
	SetConversationsActive(n int)
}

// MetricsSampleWorker periodically copies in-memory collection sizes
// into the gauges metrics.Collector exposes, since neither the token
// pool nor the conversation manager is on the hot path for every
// gauge update a scrape might land between.
type MetricsSampleWorker struct {
	pool     PoolSizer
	convs    ConversationCounter
	sink     GaugeSink
	interval time.Duration
	log      *slog.Logger
}

// NewMetricsSampleWorker creates a MetricsSampleWorker. A non-positive
// interval falls back to defaultMetricsSampleInterval.
func NewMetricsSampleWorker(pool PoolSizer, convs ConversationCounter, sink GaugeSink, interval time.Duration, log *slog.Logger) *MetricsSampleWorker {
	if interval <= 0 {
		interval = defaultMetricsSampleInterval
	}
	return &MetricsSampleWorker{pool: pool, convs: convs, sink: sink, interval: interval, log: log}
}

func (w *MetricsSampleWorker) Name() string { return "metrics_sample" }

func (w *MetricsSampleWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sample()
	for {
		select {
		case <-ticker.C:
			w.sample()
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *MetricsSampleWorker) sample() {
	for pool, n := range w.pool.Sizes() {
		w.sink.SetTokenPoolSize(pool, n)
	}
	w.sink.SetConversationsActive(w.convs.Count())
}
