package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Execution struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
}

type ExecutionOption func(*Execution)

func WithClock(clock clockwork.Clock) ExecutionOption {
	return func(e *Execution) { e.clock = clock }
}

// NewExecution creates the service that starts, lists and cancels workflow runs.
func NewExecution(persistence persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...ExecutionOption) *Execution {
	e := &Execution{
		persistence: persistence,
		publisher:   publisher,
		clock:       clockwork.NewRealClock(),
		logger:      logger.With("module", "execution_service"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteResponse is returned as soon as the run is queued.
type ExecuteResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
}

// ExecuteWorkflow creates a pending run of an enabled workflow with input as
// its trigger context and queues it. Processing happens on a worker.
func (e *Execution) ExecuteWorkflow(ctx context.Context, workspaceID, workflowID string, input map[string]any) (*ExecuteResponse, error) {
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil || workflow.WorkspaceID != workspaceID {
		return nil, newNotFoundError("ExecuteWorkflow", "workflow", workflowID, ErrWorkflowNotFound)
	}

	if !workflow.IsActive {
		return nil, &ServiceError{
			Op:      "ExecuteWorkflow",
			Code:    "WORKFLOW_DISABLED",
			Message: fmt.Sprintf("workflow %s is disabled", workflowID),
			Err:     ErrWorkflowDisabled,
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	execution := models.NewPendingExecution(id.String(), workflow, workflow.TriggerType, input, e.clock.Now().UTC())

	if err := e.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	logger := e.logger.With("execution_id", execution.ID, "workflow_id", workflowID)

	// The resumer sweep picks up pending rows whose queue message was lost.
	if err := e.publisher.Publish(ctx, execution.ID, events.NewExecutionQueued(execution, events.QueueManual)); err != nil {
		logger.WarnContext(ctx, "Failed to queue execution", "error", err)
	}

	logger.InfoContext(ctx, "Manual execution created")

	return &ExecuteResponse{ExecutionID: execution.ID, Status: execution.Status}, nil
}

// GetExecutions lists the runs of a workflow, newest first.
func (e *Execution) GetExecutions(ctx context.Context, workspaceID, workflowID string, limit, offset int) (*persistence.ExecutionListResult, error) {
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil || workflow.WorkspaceID != workspaceID {
		return nil, newNotFoundError("GetExecutions", "workflow", workflowID, ErrWorkflowNotFound)
	}

	result, err := e.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID, persistence.ClampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return result, nil
}

// FetchByID returns one execution of the workspace.
func (e *Execution) FetchByID(ctx context.Context, workspaceID, executionID string) (*models.WorkflowExecution, error) {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	if execution == nil || execution.WorkspaceID != workspaceID {
		return nil, newNotFoundError("FetchByID", "execution", executionID, ErrExecutionNotFound)
	}

	return execution, nil
}

// Cancel stops an execution. A run nobody holds is cancelled at once; a run
// being processed stops before its next action.
func (e *Execution) Cancel(ctx context.Context, workspaceID, executionID string) (*models.WorkflowExecution, error) {
	if _, err := e.FetchByID(ctx, workspaceID, executionID); err != nil {
		return nil, err
	}

	execution, err := e.persistence.ExecutionRepository().RequestCancel(ctx, executionID, e.clock.Now().UTC())
	if err != nil {
		switch {
		case persistence.IsExecutionFinished(err):
			return nil, &ServiceError{
				Op:      "Cancel",
				Code:    "EXECUTION_FINISHED",
				Message: fmt.Sprintf("execution %s already finished", executionID),
				Err:     ErrExecutionFinished,
			}
		case persistence.IsExecutionNotFound(err):
			return nil, newNotFoundError("Cancel", "execution", executionID, ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	logger := e.logger.With("execution_id", executionID)

	if execution.Status == models.ExecutionCancelled {
		if err := e.publisher.Publish(ctx, execution.ID, events.NewExecutionFinished(execution, "")); err != nil {
			logger.WarnContext(ctx, "Failed to publish execution finished event", "error", err)
		}

		logger.InfoContext(ctx, "Execution cancelled")
	} else {
		logger.InfoContext(ctx, "Cancellation requested", "claimed_by", execution.ClaimedBy)
	}

	return execution, nil
}
