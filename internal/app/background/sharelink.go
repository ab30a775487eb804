package background

import (
	"context"
	"log/slog"

	"github.com/thushan/olla/internal/core/supervisor"
	"github.com/thushan/olla/pkg/eventbus"
)

// ShareLinkCreator is the subset of *supervisor.Supervisor the
// share-link worker drives.
type ShareLinkCreator interface {
	CreateShareLink(ctx context.Context, evt supervisor.ShareLinkRequest)
}

// ShareLinkWorker consumes ShareLinkRequest events published by the
// supervisor on a successful exchange and creates the upstream share
// link out of band, mirroring the detached asyncio.create_task(_share())
// call the Supervisor's recordConversation otherwise can't await without
// blocking the response to the caller.
type ShareLinkWorker struct {
	bus *eventbus.EventBus[supervisor.ShareLinkRequest]
	sup ShareLinkCreator
	log *slog.Logger
}

// NewShareLinkWorker creates a ShareLinkWorker.
func NewShareLinkWorker(bus *eventbus.EventBus[supervisor.ShareLinkRequest], sup ShareLinkCreator, log *slog.Logger) *ShareLinkWorker {
	return &ShareLinkWorker{bus: bus, sup: sup, log: log}
}

func (w *ShareLinkWorker) Name() string { return "share_link" }

// Run subscribes to the share-link event bus and processes events one
// at a time until ctx is cancelled or the subscription channel closes.
func (w *ShareLinkWorker) Run(ctx context.Context) error {
	events, cancel := w.bus.Subscribe(ctx)
	defer cancel()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			w.sup.CreateShareLink(ctx, evt)
		case <-ctx.Done():
			return nil
		}
	}
}
