package driving

import "context"

// Scheduler runs full sync, incremental sync and maintenance on intervals.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the loop and waits for running tasks.
	Stop() error
}
