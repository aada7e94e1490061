package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

var ExecutionStatuses = []ExecutionStatus{
	ExecutionPending, ExecutionRunning, ExecutionCompleted, ExecutionFailed, ExecutionCancelled,
}

func (s ExecutionStatus) Valid() bool {
	return slices.Contains(ExecutionStatuses, s)
}

// WorkflowExecution is one run of a workflow against one trigger event.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkspaceID     string          `json:"workspace_id"`
	TriggerType     TriggerType     `json:"trigger_type"`
	TriggerContext  map[string]any  `json:"trigger_context"`
	Status          ExecutionStatus `json:"status"`
	Outcomes        []ActionOutcome `json:"outcomes"`
	Continuation    *Continuation   `json:"continuation,omitempty"`
	ResumeAt        *time.Time      `json:"resume_at,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	ClaimedBy       string          `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Suspended reports whether the run is parked on a wait.
func (e *WorkflowExecution) Suspended() bool {
	return e.Status == ExecutionRunning && e.ResumeAt != nil
}

// ActionOutcome records the result of a single action.
type ActionOutcome struct {
	ActionID    string         `json:"action_id"`
	ActionType  ActionType     `json:"action_type"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// OutcomeIndex maps action id to its latest outcome.
func (e *WorkflowExecution) OutcomeIndex() map[string]ActionOutcome {
	index := make(map[string]ActionOutcome, len(e.Outcomes))
	for _, outcome := range e.Outcomes {
		index[outcome.ActionID] = outcome
	}

	return index
}

// Continuation is the persisted remainder of a suspended run.
// Frames form a stack; the last frame is the innermost branch.
type Continuation struct {
	Frames []Frame `json:"frames"`
}

// Frame is an action list still to be walked.
type Frame struct {
	// OwnerID is the condition action that opened this branch, empty for the top level.
	OwnerID   string           `json:"owner_id,omitempty"`
	Branch    string           `json:"branch,omitempty"`
	Result    bool             `json:"result,omitempty"`
	Actions   []WorkflowAction `json:"actions"`
	Failed    bool             `json:"failed,omitempty"`
	StartedAt time.Time        `json:"started_at"`
}

const (
	BranchIf   = "if"
	BranchElse = "else"
)

// NewPendingExecution snapshots the trigger context for a new run of workflow.
func NewPendingExecution(id string, workflow *Workflow, trigger TriggerType, context map[string]any, now time.Time) *WorkflowExecution {
	if context == nil {
		context = map[string]any{}
	}

	return &WorkflowExecution{
		ID:             id,
		WorkflowID:     workflow.ID,
		WorkspaceID:    workflow.WorkspaceID,
		TriggerType:    trigger,
		TriggerContext: context,
		Status:         ExecutionPending,
		Outcomes:       []ActionOutcome{},
		StartedAt:      now,
		UpdatedAt:      now,
	}
}
