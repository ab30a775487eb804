package background

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCoolingPool struct {
	recovered atomic.Int32
	calls     atomic.Int32
}

func (p *fakeCoolingPool) RefreshCooling() int {
	p.calls.Add(1)
	return int(p.recovered.Load())
}

func TestCooldownProbeWorker_TicksAndStopsOnCancel(t *testing.T) {
	t.Parallel()
	pool := &fakeCoolingPool{}
	pool.recovered.Store(2)
	w := NewCooldownProbeWorker(pool, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	if pool.calls.Load() == 0 {
		t.Fatal("expected at least one RefreshCooling call")
	}
}

func TestNewCooldownProbeWorker_DefaultsNonPositiveInterval(t *testing.T) {
	w := NewCooldownProbeWorker(&fakeCoolingPool{}, 0, nil)
	if w.interval != defaultCooldownProbeInterval {
		t.Fatalf("expected default interval, got %v", w.interval)
	}
}
