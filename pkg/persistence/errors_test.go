package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		t.Parallel()

		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("GetByID", "exec-1", persistence.ErrExecutionNotFound)
		claimErr := persistence.NewClaimError("Save", "exec-1", "worker-a", persistence.ErrClaimConflict)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.True(t, persistence.IsClaimConflict(claimErr))
		assert.False(t, persistence.IsClaimConflict(executionErr))
		assert.True(t, persistence.IsClaimConflict(fmt.Errorf("wrapped: %w", claimErr)))
		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
	})

	t.Run("errors carry context", func(t *testing.T) {
		t.Parallel()

		err := persistence.NewWorkflowError("Delete", "workflow-123", persistence.ErrWorkflowNotFound)
		assert.Equal(t, "Delete operation failed for workflow workflow-123: workflow not found", err.Error())

		claimErr := persistence.NewClaimError("Claim", "exec-9", "worker-b", persistence.ErrClaimConflict)
		assert.Contains(t, claimErr.Error(), "exec-9")
		assert.Contains(t, claimErr.Error(), "worker-b")
		assert.Contains(t, claimErr.Error(), "execution claim conflict")
	})
}
