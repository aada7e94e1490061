package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ExecutionRepository stores one JSON file per execution. A single mutex
// serialises claims and writes, which is enough for one process.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) load(id string) (*models.WorkflowExecution, string, error) {
	filePath, err := recordPath(er.dir(), id)
	if err != nil {
		return nil, "", err
	}

	var execution models.WorkflowExecution

	found, err := readJSON(filePath, &execution)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	if !found {
		return nil, filePath, nil
	}

	return &execution, filePath, nil
}

func (er *ExecutionRepository) all() ([]*models.WorkflowExecution, error) {
	jsonFiles, err := fs.Glob(os.DirFS(er.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		var execution models.WorkflowExecution

		found, err := readJSON(filepath.Join(er.dir(), file), &execution)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", file, err)
		}

		if found {
			executions = append(executions, &execution)
		}
	}

	return executions, nil
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	existing, filePath, err := er.load(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if existing != nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionExists)
	}

	now := time.Now().UTC()
	if execution.StartedAt.IsZero() {
		execution.StartedAt = now
	}

	execution.UpdatedAt = now

	return writeJSON(filePath, execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, _, err := er.load(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, limit, offset int) (*persistence.ExecutionListResult, error) {
	limit = persistence.ClampLimit(limit)
	offset = max(offset, 0)

	er.mu.Lock()
	executions, err := er.all()
	er.mu.Unlock()

	if err != nil {
		return nil, err
	}

	matching := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.WorkflowID == workflowID {
			matching = append(matching, execution)
		}
	}

	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].StartedAt.Equal(matching[j].StartedAt) {
			return matching[i].ID > matching[j].ID
		}

		return matching[i].StartedAt.After(matching[j].StartedAt)
	})

	total := int64(len(matching))

	if offset >= len(matching) {
		return &persistence.ExecutionListResult{Executions: make([]*models.WorkflowExecution, 0), TotalCount: total}, nil
	}

	end := min(offset+limit, len(matching))

	return &persistence.ExecutionListResult{
		Executions:  matching[offset:end],
		TotalCount:  total,
		HasNextPage: end < len(matching),
	}, nil
}

func claimable(execution *models.WorkflowExecution, now time.Time) bool {
	if execution.ClaimedBy != "" {
		return false
	}

	switch execution.Status {
	case models.ExecutionPending:
		return true
	case models.ExecutionRunning:
		return execution.ResumeAt != nil && !execution.ResumeAt.After(now)
	default:
		return false
	}
}

func (er *ExecutionRepository) Claim(_ context.Context, id, workerID string, now time.Time) (*models.WorkflowExecution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, filePath, err := er.load(id)
	if err != nil {
		return nil, persistence.NewClaimError("Claim", id, workerID, err)
	}

	if execution == nil {
		return nil, persistence.NewClaimError("Claim", id, workerID, persistence.ErrExecutionNotFound)
	}

	if !claimable(execution, now) {
		return nil, persistence.NewClaimError("Claim", id, workerID, persistence.ErrClaimConflict)
	}

	claimedAt := now.UTC()
	execution.ClaimedBy = workerID
	execution.ClaimedAt = &claimedAt
	execution.UpdatedAt = claimedAt

	if execution.Status == models.ExecutionPending {
		execution.Status = models.ExecutionRunning
	}

	if err := writeJSON(filePath, execution); err != nil {
		return nil, persistence.NewClaimError("Claim", id, workerID, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) Heartbeat(_ context.Context, id, workerID string, now time.Time) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, filePath, err := er.load(id)
	if err != nil {
		return persistence.NewClaimError("Heartbeat", id, workerID, err)
	}

	if execution == nil {
		return persistence.NewClaimError("Heartbeat", id, workerID, persistence.ErrExecutionNotFound)
	}

	if execution.ClaimedBy != workerID || execution.Status.Terminal() {
		return persistence.NewClaimError("Heartbeat", id, workerID, persistence.ErrClaimConflict)
	}

	beat := now.UTC()
	execution.ClaimedAt = &beat
	execution.UpdatedAt = beat

	if err := writeJSON(filePath, execution); err != nil {
		return persistence.NewClaimError("Heartbeat", id, workerID, err)
	}

	return nil
}

func (er *ExecutionRepository) Save(_ context.Context, workerID string, execution *models.WorkflowExecution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	stored, filePath, err := er.load(execution.ID)
	if err != nil {
		return persistence.NewClaimError("Save", execution.ID, workerID, err)
	}

	if stored == nil {
		return persistence.NewClaimError("Save", execution.ID, workerID, persistence.ErrExecutionNotFound)
	}

	if stored.Status.Terminal() {
		return persistence.NewClaimError("Save", execution.ID, workerID, persistence.ErrExecutionFinished)
	}

	if stored.ClaimedBy != workerID {
		return persistence.NewClaimError("Save", execution.ID, workerID, persistence.ErrClaimConflict)
	}

	execution.CancelRequested = execution.CancelRequested || stored.CancelRequested
	if execution.ClaimedBy == "" {
		execution.ClaimedAt = nil
	} else {
		// The heartbeat may be newer than the worker's copy.
		execution.ClaimedAt = stored.ClaimedAt
	}

	execution.UpdatedAt = time.Now().UTC()

	return writeJSON(filePath, execution)
}

func (er *ExecutionRepository) RequestCancel(_ context.Context, id string, now time.Time) (*models.WorkflowExecution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, filePath, err := er.load(id)
	if err != nil {
		return nil, persistence.NewExecutionError("RequestCancel", id, err)
	}

	if execution == nil {
		return nil, persistence.NewExecutionError("RequestCancel", id, persistence.ErrExecutionNotFound)
	}

	if execution.Status.Terminal() {
		return nil, persistence.NewExecutionError("RequestCancel", id, persistence.ErrExecutionFinished)
	}

	now = now.UTC()
	execution.CancelRequested = true
	execution.UpdatedAt = now

	if execution.ClaimedBy == "" {
		execution.Status = models.ExecutionCancelled
		execution.CompletedAt = &now
		execution.Continuation = nil
		execution.ResumeAt = nil
	}

	if err := writeJSON(filePath, execution); err != nil {
		return nil, persistence.NewExecutionError("RequestCancel", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) CancelRequested(_ context.Context, id string) (bool, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, _, err := er.load(id)
	if err != nil {
		return false, persistence.NewExecutionError("CancelRequested", id, err)
	}

	if execution == nil {
		return false, persistence.NewExecutionError("CancelRequested", id, persistence.ErrExecutionNotFound)
	}

	return execution.CancelRequested, nil
}

func (er *ExecutionRepository) Due(_ context.Context, now time.Time, limit int) ([]string, error) {
	er.mu.Lock()
	executions, err := er.all()
	er.mu.Unlock()

	if err != nil {
		return nil, err
	}

	due := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.Status == models.ExecutionPending && execution.ClaimedBy == "" && execution.StartedAt.After(now) {
			continue
		}

		if claimable(execution, now) {
			due = append(due, execution)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return dueAt(due[i]).Before(dueAt(due[j]))
	})

	ids := make([]string, 0, min(len(due), max(limit, 0)))
	for _, execution := range due {
		if limit > 0 && len(ids) == limit {
			break
		}

		ids = append(ids, execution.ID)
	}

	return ids, nil
}

func dueAt(execution *models.WorkflowExecution) time.Time {
	if execution.ResumeAt != nil {
		return *execution.ResumeAt
	}

	return execution.StartedAt
}

func (er *ExecutionRepository) ReleaseStale(_ context.Context, before, now time.Time) (int, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	executions, err := er.all()
	if err != nil {
		return 0, err
	}

	released := 0

	for _, execution := range executions {
		if execution.ClaimedBy == "" || execution.Status.Terminal() {
			continue
		}

		if execution.ClaimedAt != nil && !execution.ClaimedAt.Before(before) {
			continue
		}

		execution.ClaimedBy = ""
		execution.ClaimedAt = nil
		execution.UpdatedAt = now.UTC()

		if execution.Status == models.ExecutionRunning && execution.ResumeAt == nil {
			resumeAt := now.UTC()
			execution.ResumeAt = &resumeAt
		}

		filePath, err := recordPath(er.dir(), execution.ID)
		if err != nil {
			return released, err
		}

		if err := writeJSON(filePath, execution); err != nil {
			return released, persistence.NewExecutionError("ReleaseStale", execution.ID, err)
		}

		released++
	}

	return released, nil
}
