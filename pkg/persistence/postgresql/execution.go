package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

const executionColumns = `
	id
  , workflow_id
  , workspace_id
  , trigger_type
  , trigger_context
  , status
  , outcomes
  , continuation
  , resume_at
  , cancel_requested
  , claimed_by
  , claimed_at
  , error_message
  , started_at
  , completed_at
  , updated_at
`

// ExecutionRepository stores executions; claims are conditional updates so
// any number of workers can share the table.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()
	if execution.StartedAt.IsZero() {
		execution.StartedAt = now
	}

	execution.UpdatedAt = now

	fields, err := marshalExecution(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, workspace_id, trigger_type, trigger_context,
			status, outcomes, continuation, resume_at, cancel_requested, claimed_by, claimed_at,
			error_message, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.WorkspaceID,
		string(execution.TriggerType),
		fields.triggerContext,
		string(execution.Status),
		fields.outcomes,
		fields.continuation,
		execution.ResumeAt,
		execution.CancelRequested,
		execution.ClaimedBy,
		execution.ClaimedAt,
		execution.Error,
		execution.StartedAt,
		execution.CompletedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	created, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if created == 0 {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionExists)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx, "SELECT"+executionColumns+"FROM workflow_executions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) (*persistence.ExecutionListResult, error) {
	limit = persistence.ClampLimit(limit)
	offset = max(offset, 0)

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_executions WHERE workflow_id = $1", workflowID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	executions, err := r.query(ctx, "SELECT"+executionColumns+`FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2 OFFSET $3`, workflowID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &persistence.ExecutionListResult{
		Executions:  executions,
		TotalCount:  total,
		HasNextPage: int64(offset+len(executions)) < total,
	}, nil
}

func (r *ExecutionRepository) Claim(ctx context.Context, id, workerID string, now time.Time) (*models.WorkflowExecution, error) {
	query := `
		UPDATE workflow_executions
		SET claimed_by = $2,
			claimed_at = $3,
			status = 'running',
			updated_at = $3
		WHERE id = $1
		  AND claimed_by = ''
		  AND (status = 'pending' OR (status = 'running' AND resume_at <= $3))
		RETURNING` + executionColumns

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id, workerID, now.UTC()))
	if err == nil {
		return execution, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewClaimError("Claim", id, workerID, err)
	}

	return nil, persistence.NewClaimError("Claim", id, workerID, r.missingOr(ctx, id, persistence.ErrClaimConflict))
}

func (r *ExecutionRepository) Heartbeat(ctx context.Context, id, workerID string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET claimed_at = $3, updated_at = $3
		WHERE id = $1
		  AND claimed_by = $2
		  AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, workerID, now.UTC(),
	)
	if err != nil {
		return persistence.NewClaimError("Heartbeat", id, workerID, err)
	}

	renewed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if renewed == 1 {
		return nil
	}

	return persistence.NewClaimError("Heartbeat", id, workerID, r.missingOr(ctx, id, persistence.ErrClaimConflict))
}

// missingOr distinguishes an absent row from a row that failed a condition.
func (r *ExecutionRepository) missingOr(ctx context.Context, id string, conflict error) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return err
	}

	if !exists {
		return persistence.ErrExecutionNotFound
	}

	return conflict
}

func (r *ExecutionRepository) Save(ctx context.Context, workerID string, execution *models.WorkflowExecution) error {
	execution.UpdatedAt = time.Now().UTC()
	if execution.ClaimedBy == "" {
		execution.ClaimedAt = nil
	}

	fields, err := marshalExecution(execution)
	if err != nil {
		return persistence.NewClaimError("Save", execution.ID, workerID, err)
	}

	query := `
		UPDATE workflow_executions
		SET status = $3,
			outcomes = $4,
			continuation = $5,
			resume_at = $6,
			cancel_requested = cancel_requested OR $7,
			claimed_by = $8,
			claimed_at = CASE WHEN $8 = '' THEN NULL ELSE claimed_at END,
			error_message = $9,
			completed_at = $10,
			updated_at = $11
		WHERE id = $1
		  AND claimed_by = $2
		  AND status NOT IN ('completed', 'failed', 'cancelled')
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		workerID,
		string(execution.Status),
		fields.outcomes,
		fields.continuation,
		execution.ResumeAt,
		execution.CancelRequested,
		execution.ClaimedBy,
		execution.Error,
		execution.CompletedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewClaimError("Save", execution.ID, workerID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 1 {
		return nil
	}

	stored, err := r.GetByID(ctx, execution.ID)
	if err != nil {
		return err
	}

	switch {
	case stored == nil:
		return persistence.NewClaimError("Save", execution.ID, workerID, persistence.ErrExecutionNotFound)
	case stored.Status.Terminal():
		return persistence.NewClaimError("Save", execution.ID, workerID, persistence.ErrExecutionFinished)
	default:
		return persistence.NewClaimError("Save", execution.ID, workerID, persistence.ErrClaimConflict)
	}
}

func (r *ExecutionRepository) RequestCancel(ctx context.Context, id string, now time.Time) (*models.WorkflowExecution, error) {
	query := `
		UPDATE workflow_executions
		SET cancel_requested = true,
			status = CASE WHEN claimed_by = '' THEN 'cancelled' ELSE status END,
			completed_at = CASE WHEN claimed_by = '' THEN $2 ELSE completed_at END,
			continuation = CASE WHEN claimed_by = '' THEN NULL ELSE continuation END,
			resume_at = CASE WHEN claimed_by = '' THEN NULL ELSE resume_at END,
			updated_at = $2
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		RETURNING` + executionColumns

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id, now.UTC()))
	if err == nil {
		return execution, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("RequestCancel", id, err)
	}

	return nil, persistence.NewExecutionError("RequestCancel", id, r.missingOr(ctx, id, persistence.ErrExecutionFinished))
}

func (r *ExecutionRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool

	err := r.db.QueryRowContext(ctx, "SELECT cancel_requested FROM workflow_executions WHERE id = $1", id).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, persistence.NewExecutionError("CancelRequested", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return false, persistence.NewExecutionError("CancelRequested", id, err)
	}

	return requested, nil
}

func (r *ExecutionRepository) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM workflow_executions
		WHERE claimed_by = ''
		  AND ((status = 'pending' AND started_at <= $1) OR (status = 'running' AND resume_at <= $1))
		ORDER BY COALESCE(resume_at, started_at), id`

	args := []any{now.UTC()}
	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan execution id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *ExecutionRepository) ReleaseStale(ctx context.Context, before, now time.Time) (int, error) {
	query := `
		UPDATE workflow_executions
		SET claimed_by = '',
			claimed_at = NULL,
			resume_at = CASE WHEN status = 'running' THEN COALESCE(resume_at, $2) ELSE resume_at END,
			updated_at = $2
		WHERE claimed_by <> ''
		  AND status IN ('pending', 'running')
		  AND (claimed_at IS NULL OR claimed_at < $1)`

	result, err := r.db.ExecContext(ctx, query, before.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}

	released, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(released), nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type executionJSON struct {
	triggerContext []byte
	outcomes       []byte
	// continuation stays a nil interface when absent so the driver writes NULL.
	continuation any
}

func marshalExecution(execution *models.WorkflowExecution) (executionJSON, error) {
	var (
		fields executionJSON
		err    error
	)

	triggerContext := execution.TriggerContext
	if triggerContext == nil {
		triggerContext = map[string]any{}
	}

	if fields.triggerContext, err = json.Marshal(triggerContext); err != nil {
		return fields, fmt.Errorf("failed to marshal trigger context: %w", err)
	}

	outcomes := execution.Outcomes
	if outcomes == nil {
		outcomes = []models.ActionOutcome{}
	}

	if fields.outcomes, err = json.Marshal(outcomes); err != nil {
		return fields, fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	if execution.Continuation != nil {
		continuation, err := json.Marshal(execution.Continuation)
		if err != nil {
			return fields, fmt.Errorf("failed to marshal continuation: %w", err)
		}

		fields.continuation = continuation
	}

	return fields, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution                                  models.WorkflowExecution
		triggerType, status                        string
		triggerContext, outcomes, continuationJSON []byte
		resumeAt, claimedAt, completedAt           sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkspaceID,
		&triggerType,
		&triggerContext,
		&status,
		&outcomes,
		&continuationJSON,
		&resumeAt,
		&execution.CancelRequested,
		&execution.ClaimedBy,
		&claimedAt,
		&execution.Error,
		&execution.StartedAt,
		&completedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.TriggerType = models.TriggerType(triggerType)
	execution.Status = models.ExecutionStatus(status)
	execution.StartedAt = execution.StartedAt.UTC()
	execution.UpdatedAt = execution.UpdatedAt.UTC()
	execution.ResumeAt = nullTime(resumeAt)
	execution.ClaimedAt = nullTime(claimedAt)
	execution.CompletedAt = nullTime(completedAt)

	if err := json.Unmarshal(triggerContext, &execution.TriggerContext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger context: %w", err)
	}

	if err := json.Unmarshal(outcomes, &execution.Outcomes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
	}

	if continuationJSON != nil {
		execution.Continuation = &models.Continuation{}
		if err := json.Unmarshal(continuationJSON, execution.Continuation); err != nil {
			return nil, fmt.Errorf("failed to unmarshal continuation: %w", err)
		}
	}

	return &execution, nil
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time.UTC()

	return &t
}
