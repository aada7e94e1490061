package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionExists indicates an execution with the same id was already created.
	ErrExecutionExists = errors.New("execution already exists")

	// ErrClaimConflict indicates the execution is held by another worker or is not claimable.
	ErrClaimConflict = errors.New("execution claim conflict")

	// ErrExecutionFinished indicates the execution already reached a terminal status.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrInvalidSortField indicates an invalid sort field was provided.
	ErrInvalidSortField = errors.New("invalid sort field")

	// ErrInvalidIdentifier indicates an id that cannot be used as a storage key.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string
	Err        error
	Message    string
}

func (e *WorkflowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for workflow %s: %s (%v)", e.Op, e.WorkflowID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	WorkerID    string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.WorkerID != "" {
		return fmt.Sprintf("%s operation failed for execution %s (worker %s): %v", e.Op, e.ExecutionID, e.WorkerID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// NewClaimError reports a write or claim rejected for workerID.
func NewClaimError(op, executionID, workerID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		WorkerID:    workerID,
		Err:         err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionExists checks if an error indicates a duplicate execution id.
func IsExecutionExists(err error) bool {
	return errors.Is(err, ErrExecutionExists)
}

// IsClaimConflict checks if an error indicates a rejected claim or write.
func IsClaimConflict(err error) bool {
	return errors.Is(err, ErrClaimConflict)
}

// IsExecutionFinished checks if an error indicates the execution is terminal.
func IsExecutionFinished(err error) bool {
	return errors.Is(err, ErrExecutionFinished)
}

// IsInvalidSortField checks if an error indicates an invalid sort field.
func IsInvalidSortField(err error) bool {
	return errors.Is(err, ErrInvalidSortField)
}
