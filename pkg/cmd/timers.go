package cmd

import (
	"context"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/timers"
)

// NewTimerStore uses Redis when redisURL is set, otherwise the execution
// store's resume_at column.
func NewTimerStore(ctx context.Context, redisURL string, store persistence.Persistence) (timers.Store, error) {
	if redisURL == "" {
		return timers.NewPersistenceStore(store.ExecutionRepository()), nil
	}

	return timers.OpenRedisStore(ctx, redisURL)
}
