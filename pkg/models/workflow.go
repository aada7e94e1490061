// Package models defines the core domain models for CRM workflow automation
package models

import (
	"cmp"
	"slices"
	"time"
)

// TriggerType names the CRM event that starts a workflow.
type TriggerType string

const (
	TriggerLeadCreated       TriggerType = "lead_created"
	TriggerLeadStatusChanged TriggerType = "lead_status_changed"
	TriggerLeadStageChanged  TriggerType = "lead_stage_changed"
	TriggerLeadContacted     TriggerType = "lead_contacted"
	TriggerDealCreated       TriggerType = "deal_created"
	TriggerDealStageChanged  TriggerType = "deal_stage_changed"
	TriggerDealWon           TriggerType = "deal_won"
	TriggerDealLost          TriggerType = "deal_lost"
	TriggerActivityLogged    TriggerType = "activity_logged"
	TriggerActivityCompleted TriggerType = "activity_completed"
	TriggerTaskCompleted     TriggerType = "task_completed"
)

// TriggerTypes lists every supported trigger in catalog order.
var TriggerTypes = []TriggerType{
	TriggerLeadCreated,
	TriggerLeadStatusChanged,
	TriggerLeadStageChanged,
	TriggerLeadContacted,
	TriggerDealCreated,
	TriggerDealStageChanged,
	TriggerDealWon,
	TriggerDealLost,
	TriggerActivityLogged,
	TriggerActivityCompleted,
	TriggerTaskCompleted,
}

func (t TriggerType) Valid() bool {
	return slices.Contains(TriggerTypes, t)
}

// Workflow is a user-defined trigger -> action list owned by one workspace user.
type Workflow struct {
	ID            string           `json:"id"`
	WorkspaceID   string           `json:"workspace_id"             validate:"required"`
	UserID        string           `json:"user_id"                  validate:"required"`
	Name          string           `json:"name"                     validate:"required,min=1,max=200"`
	Description   string           `json:"description,omitempty"`
	TriggerType   TriggerType      `json:"trigger_type"             validate:"required"`
	TriggerConfig map[string]any   `json:"trigger_config"`
	IsActive      bool             `json:"is_active"`
	Actions       []WorkflowAction `json:"actions"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// WorkflowAction is one step of a workflow. Config holds the payload matching Type.
type WorkflowAction struct {
	ID     string       `json:"id"`
	Type   ActionType   `json:"type"   validate:"required"`
	Config ActionConfig `json:"config"`
	Order  int          `json:"order"`
}

// SortedActions returns a copy of actions ordered by their Order key.
// Storage order breaks ties.
func SortedActions(actions []WorkflowAction) []WorkflowAction {
	sorted := slices.Clone(actions)
	slices.SortStableFunc(sorted, func(a, b WorkflowAction) int {
		return cmp.Compare(a.Order, b.Order)
	})

	return sorted
}

// Walk visits every action of the tree depth-first, branches included.
func Walk(actions []WorkflowAction, visit func(action WorkflowAction)) {
	for _, action := range actions {
		visit(action)

		if cfg, ok := action.Config.(*ConditionActionConfig); ok {
			Walk(cfg.IfBranch, visit)
			Walk(cfg.ElseBranch, visit)
		}
	}
}
