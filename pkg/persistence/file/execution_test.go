package file

import (
	"sync"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func pendingExecution(id string) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:             id,
		WorkflowID:     "wf-1",
		WorkspaceID:    "ws-1",
		TriggerType:    models.TriggerLeadCreated,
		TriggerContext: map[string]any{"lead": map[string]any{"id": "lead-1"}},
		Status:         models.ExecutionPending,
		StartedAt:      baseTime,
	}
}

func TestExecutionRepository_CreateAndGet(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())

	require.NoError(t, repo.Create(t.Context(), pendingExecution("exec-1")))
	assert.True(t, persistence.IsExecutionExists(repo.Create(t.Context(), pendingExecution("exec-1"))))

	loaded, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.ExecutionPending, loaded.Status)
	assert.Equal(t, baseTime, loaded.StartedAt)

	missing, err := repo.GetByID(t.Context(), "exec-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExecutionRepository_ClaimIsExclusive(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())
	require.NoError(t, repo.Create(t.Context(), pendingExecution("exec-1")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	for _, worker := range []string{"worker-a", "worker-b", "worker-c", "worker-d"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.Claim(t.Context(), "exec-1", worker, baseTime)
			if err == nil {
				mu.Lock()
				winners = append(winners, worker)
				mu.Unlock()

				return
			}

			assert.True(t, persistence.IsClaimConflict(err))
		}()
	}

	wg.Wait()

	require.Len(t, winners, 1)

	loaded, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], loaded.ClaimedBy)
	assert.Equal(t, models.ExecutionRunning, loaded.Status)
	require.NotNil(t, loaded.ClaimedAt)
}

func TestExecutionRepository_HeartbeatKeepsClaim(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())
	require.NoError(t, repo.Create(t.Context(), pendingExecution("exec-1")))

	claimed, err := repo.Claim(t.Context(), "exec-1", "worker-a", baseTime)
	require.NoError(t, err)

	require.NoError(t, repo.Heartbeat(t.Context(), "exec-1", "worker-a", baseTime.Add(4*time.Minute)))
	assert.True(t, persistence.IsClaimConflict(repo.Heartbeat(t.Context(), "exec-1", "worker-b", baseTime.Add(4*time.Minute))))

	// A checkpoint from the worker's older copy keeps the newer heartbeat.
	require.NoError(t, repo.Save(t.Context(), "worker-a", claimed))

	loaded, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.ClaimedAt)
	assert.Equal(t, baseTime.Add(4*time.Minute), *loaded.ClaimedAt)

	released, err := repo.ReleaseStale(t.Context(), baseTime.Add(time.Minute), baseTime.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, released)

	_, err = repo.Claim(t.Context(), "exec-1", "worker-b", baseTime.Add(6*time.Minute))
	assert.True(t, persistence.IsClaimConflict(err))

	released, err = repo.ReleaseStale(t.Context(), baseTime.Add(5*time.Minute), baseTime.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	assert.True(t, persistence.IsClaimConflict(repo.Heartbeat(t.Context(), "exec-1", "worker-a", baseTime.Add(10*time.Minute))))
	assert.True(t, persistence.IsExecutionNotFound(repo.Heartbeat(t.Context(), "missing", "worker-a", baseTime)))
}

func TestExecutionRepository_ClaimUnknown(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())

	_, err := repo.Claim(t.Context(), "nope", "worker-a", baseTime)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_SaveRequiresClaimant(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())
	require.NoError(t, repo.Create(t.Context(), pendingExecution("exec-1")))

	claimed, err := repo.Claim(t.Context(), "exec-1", "worker-a", baseTime)
	require.NoError(t, err)

	claimed.Status = models.ExecutionRunning
	assert.True(t, persistence.IsClaimConflict(repo.Save(t.Context(), "worker-b", claimed)))

	claimed.Status = models.ExecutionCompleted
	completedAt := baseTime.Add(time.Minute)
	claimed.CompletedAt = &completedAt
	claimed.ClaimedBy = ""
	require.NoError(t, repo.Save(t.Context(), "worker-a", claimed))

	loaded, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, loaded.Status)
	assert.Empty(t, loaded.ClaimedBy)
	assert.Nil(t, loaded.ClaimedAt)

	loaded.Status = models.ExecutionFailed
	assert.True(t, persistence.IsExecutionFinished(repo.Save(t.Context(), "", loaded)))

	_, err = repo.Claim(t.Context(), "exec-1", "worker-a", baseTime.Add(time.Hour))
	assert.True(t, persistence.IsClaimConflict(err), "terminal executions are never claimable")
}

func TestExecutionRepository_SuspendedClaimableOnlyWhenDue(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())
	require.NoError(t, repo.Create(t.Context(), pendingExecution("exec-1")))

	claimed, err := repo.Claim(t.Context(), "exec-1", "worker-a", baseTime)
	require.NoError(t, err)

	resumeAt := baseTime.Add(2 * time.Hour)
	claimed.Status = models.ExecutionRunning
	claimed.ResumeAt = &resumeAt
	claimed.Continuation = &models.Continuation{Frames: []models.Frame{{Actions: []models.WorkflowAction{}}}}
	claimed.ClaimedBy = ""
	require.NoError(t, repo.Save(t.Context(), "worker-a", claimed))

	_, err = repo.Claim(t.Context(), "exec-1", "worker-b", baseTime.Add(time.Hour))
	assert.True(t, persistence.IsClaimConflict(err))

	due, err := repo.Due(t.Context(), baseTime.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = repo.Due(t.Context(), resumeAt, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1"}, due)

	resumed, err := repo.Claim(t.Context(), "exec-1", "worker-b", resumeAt)
	require.NoError(t, err)
	require.NotNil(t, resumed.Continuation)
}

func TestExecutionRepository_DueOrderAndLimit(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())

	for i, id := range []string{"exec-c", "exec-a", "exec-b"} {
		execution := pendingExecution(id)
		execution.StartedAt = baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(t.Context(), execution))
	}

	future := pendingExecution("exec-future")
	future.StartedAt = baseTime.Add(time.Hour)
	require.NoError(t, repo.Create(t.Context(), future))

	due, err := repo.Due(t.Context(), baseTime.Add(10*time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-c", "exec-a"}, due)

	due, err = repo.Due(t.Context(), baseTime.Add(10*time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, due, 3)
}

func TestExecutionRepository_RequestCancel(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())
	require.NoError(t, repo.Create(t.Context(), pendingExecution("unclaimed")))
	require.NoError(t, repo.Create(t.Context(), pendingExecution("claimed")))

	_, err := repo.Claim(t.Context(), "claimed", "worker-a", baseTime)
	require.NoError(t, err)

	cancelled, err := repo.RequestCancel(t.Context(), "unclaimed", baseTime)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	flagged, err := repo.RequestCancel(t.Context(), "claimed", baseTime)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, flagged.Status)
	assert.True(t, flagged.CancelRequested)

	requested, err := repo.CancelRequested(t.Context(), "claimed")
	require.NoError(t, err)
	assert.True(t, requested)

	// A stale copy held by the worker cannot clear the flag.
	stale := pendingExecution("claimed")
	stale.ClaimedBy = "worker-a"
	stale.Status = models.ExecutionRunning
	require.NoError(t, repo.Save(t.Context(), "worker-a", stale))

	requested, err = repo.CancelRequested(t.Context(), "claimed")
	require.NoError(t, err)
	assert.True(t, requested)

	_, err = repo.RequestCancel(t.Context(), "unclaimed", baseTime)
	assert.True(t, persistence.IsExecutionFinished(err))

	_, err = repo.RequestCancel(t.Context(), "missing", baseTime)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ReleaseStale(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())
	require.NoError(t, repo.Create(t.Context(), pendingExecution("old")))
	require.NoError(t, repo.Create(t.Context(), pendingExecution("fresh")))

	old, err := repo.Claim(t.Context(), "old", "worker-dead", baseTime)
	require.NoError(t, err)

	old.Status = models.ExecutionRunning
	require.NoError(t, repo.Save(t.Context(), "worker-dead", old))

	_, err = repo.Claim(t.Context(), "fresh", "worker-live", baseTime.Add(10*time.Minute))
	require.NoError(t, err)

	now := baseTime.Add(12 * time.Minute)

	released, err := repo.ReleaseStale(t.Context(), baseTime.Add(5*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	loaded, err := repo.GetByID(t.Context(), "old")
	require.NoError(t, err)
	assert.Empty(t, loaded.ClaimedBy)
	require.NotNil(t, loaded.ResumeAt)
	assert.Equal(t, now, *loaded.ResumeAt)

	_, err = repo.Claim(t.Context(), "old", "worker-live", now)
	assert.NoError(t, err)
}

func TestExecutionRepository_ListByWorkflow(t *testing.T) {
	t.Parallel()

	repo := NewExecutionRepository(t.TempDir())

	for i := range 5 {
		execution := pendingExecution("exec-" + string(rune('a'+i)))
		execution.StartedAt = baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(t.Context(), execution))
	}

	other := pendingExecution("other")
	other.WorkflowID = "wf-2"
	require.NoError(t, repo.Create(t.Context(), other))

	result, err := repo.ListByWorkflow(t.Context(), "wf-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Executions, 2)
	assert.Equal(t, "exec-e", result.Executions[0].ID)
	assert.Equal(t, "exec-d", result.Executions[1].ID)

	result, err = repo.ListByWorkflow(t.Context(), "wf-1", 0, 4)
	require.NoError(t, err)
	assert.False(t, result.HasNextPage)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, "exec-a", result.Executions[0].ID)
}
