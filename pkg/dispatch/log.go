// Package dispatch provides the outbound collaborators of the workflow engine:
// message delivery and CRM record mutation.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/google/uuid"
)

// LogDispatcher records sends in the structured log and reports success.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("module", "log_dispatcher")}
}

func (d *LogDispatcher) Send(ctx context.Context, request workflow.DispatchRequest) (workflow.DispatchResult, error) {
	ref := "log-" + uuid.NewString()

	d.logger.InfoContext(ctx, "message dispatched",
		"channel", request.Channel,
		"execution_id", request.ExecutionID,
		"workspace_id", request.WorkspaceID,
		"action_id", request.ActionID,
		"provider_ref", ref,
		"config", request.Config,
	)

	return workflow.DispatchResult{Success: true, ProviderRef: ref}, nil
}

// LogCRM records mutations in the structured log. Creating actions get a fresh
// record id so later steps can reference it.
type LogCRM struct {
	logger *slog.Logger
}

func NewLogCRM(logger *slog.Logger) *LogCRM {
	return &LogCRM{logger: logger.With("module", "log_crm")}
}

func (c *LogCRM) Apply(ctx context.Context, request workflow.MutationRequest) (workflow.MutationResult, error) {
	output := map[string]any{}

	switch request.ActionType {
	case models.ActionCreateTask:
		output["task_id"] = uuid.NewString()
	case models.ActionCreateDeal:
		output["deal_id"] = uuid.NewString()
	case models.ActionAddNote:
		output["note_id"] = uuid.NewString()
	}

	c.logger.InfoContext(ctx, "crm mutation applied",
		"action_type", request.ActionType,
		"execution_id", request.ExecutionID,
		"workspace_id", request.WorkspaceID,
		"action_id", request.ActionID,
		"entity_kind", request.EntityKind,
		"entity_id", request.EntityID,
		"output", output,
	)

	return workflow.MutationResult{Success: true, Output: output}, nil
}
