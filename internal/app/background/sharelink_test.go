package background

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/supervisor"
	"github.com/thushan/olla/pkg/eventbus"
)

type fakeShareLinkCreator struct {
	mu    sync.Mutex
	calls []supervisor.ShareLinkRequest
}

func (f *fakeShareLinkCreator) CreateShareLink(ctx context.Context, evt supervisor.ShareLinkRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, evt)
}

func (f *fakeShareLinkCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestShareLinkWorker_ConsumesPublishedEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New[supervisor.ShareLinkRequest]()
	sup := &fakeShareLinkCreator{}
	w := NewShareLinkWorker(bus, sup, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the worker time to subscribe before publishing
	time.Sleep(20 * time.Millisecond)

	bus.PublishAsync(supervisor.ShareLinkRequest{Token: "tok-a", ConversationID: "conv-1"})

	deadline := time.Now().Add(2 * time.Second)
	for sup.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sup.count() != 1 {
		t.Fatalf("expected exactly one event delivered, got %d", sup.count())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
