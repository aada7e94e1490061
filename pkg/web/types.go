// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/crmflow/pkg/models"
)

const (
	// WorkspaceHeader and UserHeader are set by the access-control gateway in front of the API.
	WorkspaceHeader = "X-Workspace-ID"
	UserHeader      = "X-User-ID"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name          string                  `json:"name"                  validate:"required,min=1,max=200"`
	Description   string                  `json:"description,omitempty"`
	TriggerType   models.TriggerType      `json:"trigger_type"          validate:"required"`
	TriggerConfig map[string]any          `json:"trigger_config"`
	IsActive      bool                    `json:"is_active"`
	Actions       []models.WorkflowAction `json:"actions"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name          *string                  `json:"name,omitempty"           validate:"omitempty,min=1,max=200"`
	Description   *string                  `json:"description,omitempty"`
	TriggerType   *models.TriggerType      `json:"trigger_type,omitempty"`
	TriggerConfig map[string]any           `json:"trigger_config,omitempty"`
	IsActive      *bool                    `json:"is_active,omitempty"`
	Actions       *[]models.WorkflowAction `json:"actions,omitempty"`
}

// ExecuteWorkflowRequest carries the trigger context of a manual run.
type ExecuteWorkflowRequest struct {
	Input map[string]any `json:"input"`
}

// EmitEventRequest reports a committed CRM change.
type EmitEventRequest struct {
	Type    models.TriggerType `json:"type"    validate:"required"`
	Context map[string]any     `json:"context"`
}

type SetCustomFieldRequest struct {
	Value any `json:"value"`
}

// TriggerCatalogEntry describes a trigger type for workflow builders.
type TriggerCatalogEntry struct {
	Type          models.TriggerType `json:"type"`
	ConfigKeys    []string           `json:"config_keys"`
	ContextSchema map[string]any     `json:"context_schema"`
}

// ActionCatalogEntry describes an action type for workflow builders.
type ActionCatalogEntry struct {
	Type     models.ActionType     `json:"type"`
	Category models.ActionCategory `json:"category"`
	Channel  string                `json:"channel,omitempty"`
}
