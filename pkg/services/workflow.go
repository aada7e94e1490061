package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	WorkspaceID string
	UserID      string
	TriggerType models.TriggerType
	IsActive    *bool

	Limit  int
	Offset int

	SortBy    string
	SortOrder string
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows of a workspace with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, err
	}

	result, err := w.persistence.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		TriggerType: req.TriggerType,
		IsActive:    req.IsActive,
		Limit:       req.Limit,
		Offset:      req.Offset,
		SortBy:      req.SortBy,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return ErrWorkspaceRequired
	}

	if req.Limit <= 0 {
		req.Limit = persistence.DefaultPageSize
	}

	req.Limit = min(req.Limit, persistence.MaxPageSize)
	req.Offset = max(req.Offset, 0)

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.TriggerType != "" && !req.TriggerType.Valid() {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_TRIGGER_TYPE",
			fmt.Sprintf("invalid trigger type '%s'", req.TriggerType),
			ErrInvalidTriggerType,
		)
	}

	return nil
}

// FetchByID retrieves a workflow owned by workspaceID.
func (w *Workflow) FetchByID(ctx context.Context, workspaceID, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil || workflow.WorkspaceID != workspaceID {
		return nil, newNotFoundError("FetchByID", "workflow", id, ErrWorkflowNotFound)
	}

	return workflow, nil
}

// SaveResult is a stored workflow plus trigger_config keys that will be ignored when matching.
type SaveResult struct {
	Workflow *models.Workflow `json:"workflow"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Create validates and stores a new workflow. Missing action ids are generated.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*SaveResult, error) {
	workflow.ID = uuid.New().String()
	models.AssignActionIDs(workflow.Actions, uuid.NewString)

	if workflow.TriggerConfig == nil {
		workflow.TriggerConfig = map[string]any{}
	}

	if workflow.Actions == nil {
		workflow.Actions = []models.WorkflowAction{}
	}

	if err := w.validateWorkflow("Create", workflow); err != nil {
		return nil, err
	}

	err := w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	warnings := triggerWarnings(workflow)
	w.logWarnings(ctx, workflow, warnings)

	return &SaveResult{Workflow: workflow, Warnings: warnings}, nil
}

// WorkflowPatch carries the fields an update changes; nil leaves a field as is.
type WorkflowPatch struct {
	Name          *string                  `json:"name,omitempty"`
	Description   *string                  `json:"description,omitempty"`
	TriggerType   *models.TriggerType      `json:"trigger_type,omitempty"`
	TriggerConfig map[string]any           `json:"trigger_config,omitempty"`
	IsActive      *bool                    `json:"is_active,omitempty"`
	Actions       *[]models.WorkflowAction `json:"actions,omitempty"`
}

// Update applies patch to an existing workflow. Executions already created keep
// running against the stored definition they load at each step.
func (w *Workflow) Update(ctx context.Context, workspaceID, workflowID string, patch WorkflowPatch) (*SaveResult, error) {
	existing, err := w.FetchByID(ctx, workspaceID, workflowID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		existing.Name = *patch.Name
	}

	if patch.Description != nil {
		existing.Description = *patch.Description
	}

	if patch.TriggerType != nil {
		existing.TriggerType = *patch.TriggerType
	}

	if patch.TriggerConfig != nil {
		existing.TriggerConfig = patch.TriggerConfig
	}

	if patch.IsActive != nil {
		existing.IsActive = *patch.IsActive
	}

	if patch.Actions != nil {
		existing.Actions = *patch.Actions
		models.AssignActionIDs(existing.Actions, uuid.NewString)
	}

	if err := w.validateWorkflow("Update", existing); err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	warnings := triggerWarnings(existing)
	w.logWarnings(ctx, existing, warnings)

	return &SaveResult{Workflow: existing, Warnings: warnings}, nil
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workspaceID, workflowID string) error {
	if _, err := w.FetchByID(ctx, workspaceID, workflowID); err != nil {
		return err
	}

	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return newNotFoundError("Delete", "workflow", workflowID, ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Enable makes the trigger matcher consider the workflow. The workflow must
// have at least one action and pass validation.
func (w *Workflow) Enable(ctx context.Context, workspaceID, workflowID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workspaceID, workflowID)
	if err != nil {
		return nil, err
	}

	if len(workflow.Actions) == 0 {
		return nil, NewValidationError("Enable", "NO_ACTIONS", "workflow must have at least one action", ErrInvalidWorkflow)
	}

	if err := w.validateWorkflow("Enable", workflow); err != nil {
		return nil, err
	}

	return w.setActive(ctx, workflow, true)
}

// Disable stops new executions. Executions already created are not cancelled.
func (w *Workflow) Disable(ctx context.Context, workspaceID, workflowID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workspaceID, workflowID)
	if err != nil {
		return nil, err
	}

	return w.setActive(ctx, workflow, false)
}

func (w *Workflow) setActive(ctx context.Context, workflow *models.Workflow, active bool) (*models.Workflow, error) {
	if workflow.IsActive == active {
		return workflow, nil
	}

	workflow.IsActive = active

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", workflow.ID, "is_active", active)

	return workflow, nil
}

func (w *Workflow) validateWorkflow(op string, workflow *models.Workflow) error {
	var problems []string

	if err := w.validate.Struct(workflow); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return err
		}

		for _, fieldErr := range fieldErrors {
			problems = append(problems, fmt.Sprintf("%s failed %s validation", fieldErr.Field(), fieldErr.Tag()))
		}
	}

	var invalid *models.WorkflowValidationError
	if err := workflow.Validate(); errors.As(err, &invalid) {
		problems = append(problems, invalid.Problems...)
	}

	if len(problems) == 0 {
		return nil
	}

	return NewValidationError(op, "INVALID_WORKFLOW", strings.Join(problems, "; "), ErrInvalidWorkflow)
}

func (w *Workflow) logWarnings(ctx context.Context, wf *models.Workflow, warnings []string) {
	for _, warning := range warnings {
		w.logger.WarnContext(ctx, "Workflow trigger_config warning", "workflow_id", wf.ID, "warning", warning)
	}
}

func triggerWarnings(wf *models.Workflow) []string {
	return workflow.ValidateTriggerConfig(wf.TriggerType, wf.TriggerConfig)
}
