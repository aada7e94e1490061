// Package timers tracks when suspended executions are due to resume and
// re-queues them.
package timers

import (
	"context"
	"time"
)

// Store holds one wake-up time per execution.
type Store interface {
	// Schedule sets or replaces the wake-up time of an execution.
	Schedule(ctx context.Context, executionID string, at time.Time) error
	// Due returns up to limit execution ids whose time is at or before now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Remove(ctx context.Context, executionIDs ...string) error
	Close() error
}
