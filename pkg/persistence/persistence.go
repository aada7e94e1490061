// Package persistence provides the storage abstraction for workflows, executions and custom field values.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	CustomFieldRepository() CustomFieldRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	// ActiveByTrigger returns the enabled workflows of a workspace listening to trigger.
	ActiveByTrigger(ctx context.Context, workspaceID string, trigger models.TriggerType) ([]*models.Workflow, error)
	// GetByID returns nil, nil when the workflow does not exist.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow runs.
//
// Only one worker may hold an execution at a time. Claim is the single
// point of mutual exclusion; Save is rejected unless the caller holds the
// claim, and terminal executions are never rewritten.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	// GetByID returns nil, nil when the execution does not exist.
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) (*ExecutionListResult, error)

	// Claim hands the execution to workerID when it is unclaimed and either
	// pending or running with resume_at <= now. A pending execution is
	// marked running as part of the claim.
	Claim(ctx context.Context, id, workerID string, now time.Time) (*models.WorkflowExecution, error)
	// Heartbeat renews the claim of workerID. It returns ErrClaimConflict
	// once the claim is gone.
	Heartbeat(ctx context.Context, id, workerID string, now time.Time) error
	// Save writes the execution on behalf of workerID, keeping the stored
	// heartbeat. An empty execution.ClaimedBy releases the claim.
	Save(ctx context.Context, workerID string, execution *models.WorkflowExecution) error

	// RequestCancel cancels an unclaimed execution directly and flags a
	// claimed one so its worker stops at the next action boundary.
	RequestCancel(ctx context.Context, id string, now time.Time) (*models.WorkflowExecution, error)
	CancelRequested(ctx context.Context, id string) (bool, error)

	// Due returns ids of unclaimed executions ready to run at now: pending
	// rows created at or before now and running rows whose resume_at passed.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ReleaseStale drops claims whose last heartbeat is older than before,
	// so executions held by dead workers become claimable again.
	ReleaseStale(ctx context.Context, before, now time.Time) (int, error)
}

// CustomFieldRepository stores per-entity custom field values.
type CustomFieldRepository interface {
	Value(ctx context.Context, workspaceID, entityID, fieldID string) (any, bool, error)
	SetValue(ctx context.Context, workspaceID, entityID, fieldID string, value any) error
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	WorkspaceID string
	UserID      string
	TriggerType models.TriggerType
	IsActive    *bool

	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// WorkflowListResult contains paginated workflows with metadata.
type WorkflowListResult struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ExecutionListResult contains paginated executions, newest first.
type ExecutionListResult struct {
	Executions  []*models.WorkflowExecution `json:"executions"`
	TotalCount  int64                       `json:"total_count"`
	HasNextPage bool                        `json:"has_next_page"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var workflowSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// NormalizeListOptions applies defaults and validates the sort field against the allowlist.
func NormalizeListOptions(opts ListWorkflowsOptions) (ListWorkflowsOptions, error) {
	opts.Limit = ClampLimit(opts.Limit)

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder != "asc" {
		opts.SortOrder = "desc"
	}

	if !workflowSortFields[opts.SortBy] {
		return opts, ErrInvalidSortField
	}

	return opts, nil
}

// ClampLimit applies the default page size and caps it at MaxPageSize.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}

	return min(limit, MaxPageSize)
}
