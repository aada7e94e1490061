package workflow

import (
	"context"

	"github.com/dukex/crmflow/pkg/models"
)

// Channel is the medium a communication action is delivered through.
type Channel string

const (
	ChannelSMS          Channel = "sms"
	ChannelEmail        Channel = "email"
	ChannelCall         Channel = "call"
	ChannelNotification Channel = "notification"
)

// ChannelFor maps communication action types to their channel.
func ChannelFor(actionType models.ActionType) (Channel, bool) {
	switch actionType {
	case models.ActionSendSMS:
		return ChannelSMS, true
	case models.ActionSendEmail:
		return ChannelEmail, true
	case models.ActionMakeCall:
		return ChannelCall, true
	case models.ActionSendNotification:
		return ChannelNotification, true
	default:
		return "", false
	}
}

// DispatchRequest is a communication send with placeholders already resolved.
type DispatchRequest struct {
	ExecutionID string              `json:"execution_id"`
	WorkspaceID string              `json:"workspace_id"`
	ActionID    string              `json:"action_id"`
	Channel     Channel             `json:"channel"`
	Config      models.ActionConfig `json:"config"`
}

type DispatchResult struct {
	Success     bool   `json:"success"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Dispatcher sends SMS, email, calls and in-app notifications.
type Dispatcher interface {
	Send(ctx context.Context, request DispatchRequest) (DispatchResult, error)
}

// MutationRequest is a CRM change with its target record resolved.
type MutationRequest struct {
	ExecutionID string              `json:"execution_id"`
	WorkspaceID string              `json:"workspace_id"`
	ActionID    string              `json:"action_id"`
	ActionType  models.ActionType   `json:"action_type"`
	EntityKind  models.EntityKind   `json:"entity_kind,omitempty"`
	EntityID    string              `json:"entity_id,omitempty"`
	Config      models.ActionConfig `json:"config"`
}

type MutationResult struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// CRM applies record mutations (tasks, statuses, tags, stages, deals).
type CRM interface {
	Apply(ctx context.Context, request MutationRequest) (MutationResult, error)
}
