package timers

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/persistence"
)

// PersistenceStore reads wake-up times straight from the resume_at column
// that the worker already writes, so Schedule and Remove have nothing to do.
type PersistenceStore struct {
	executions persistence.ExecutionRepository
}

func NewPersistenceStore(executions persistence.ExecutionRepository) *PersistenceStore {
	return &PersistenceStore{executions: executions}
}

func (s *PersistenceStore) Schedule(context.Context, string, time.Time) error {
	return nil
}

func (s *PersistenceStore) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.executions.Due(ctx, now, limit)
}

func (s *PersistenceStore) Remove(context.Context, ...string) error {
	return nil
}

func (s *PersistenceStore) Close() error {
	return nil
}
