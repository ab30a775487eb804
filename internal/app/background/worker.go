// Package background implements the gateway's periodic maintenance
// loops (§4.I): cooldown recovery, conversation TTL sweeping, proxy
// rotation, and the share-link event consumer, run uniformly by a
// Runner ported from eugener-gandalf's internal/worker package.
package background

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Name returns a human-readable identifier for logging.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
