package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, err := req.RequireString("workspace_id")
	if err != nil {
		return mcp.NewToolResultError("workspace_id is required"), nil
	}

	listReq := services.ListWorkflowsRequest{
		WorkspaceID: workspaceID,
		TriggerType: models.TriggerType(req.GetString("trigger_type", "")),
		Limit:       req.GetInt("limit", 0),
		Offset:      req.GetInt("offset", 0),
	}

	if _, ok := req.GetArguments()["is_active"]; ok {
		active := req.GetBool("is_active", false)
		listReq.IsActive = &active
	}

	result, err := s.workflows.ListWorkflows(ctx, listReq)
	if err != nil {
		return s.toolError(ctx, "workflow_list", err), nil
	}

	return marshalResult(result)
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, workflowID, errResult := workflowArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	workflow, err := s.workflows.FetchByID(ctx, workspaceID, workflowID)
	if err != nil {
		return s.toolError(ctx, "workflow_get", err), nil
	}

	return marshalResult(workflow)
}

func (s *Server) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, err := req.RequireString("workspace_id")
	if err != nil {
		return mcp.NewToolResultError("workspace_id is required"), nil
	}

	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	triggerType, err := req.RequireString("trigger_type")
	if err != nil {
		return mcp.NewToolResultError("trigger_type is required"), nil
	}

	// Actions round-trip through JSON so each config decodes into its typed payload.
	var actions []models.WorkflowAction

	if raw, ok := req.GetArguments()["actions"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid actions: %v", err)), nil
		}

		if err := json.Unmarshal(data, &actions); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid actions: %v", err)), nil
		}
	}

	result, err := s.workflows.Create(ctx, &models.Workflow{
		WorkspaceID:   workspaceID,
		UserID:        userID,
		Name:          name,
		Description:   req.GetString("description", ""),
		TriggerType:   models.TriggerType(triggerType),
		TriggerConfig: mcp.ParseStringMap(req, "trigger_config", nil),
		IsActive:      req.GetBool("is_active", false),
		Actions:       actions,
	})
	if err != nil {
		return s.toolError(ctx, "workflow_create", err), nil
	}

	return marshalResult(result)
}

func (s *Server) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, workflowID, errResult := workflowArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	// The patch decodes from the arguments; the id fields are not part of it.
	var patch services.WorkflowPatch

	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	if err := json.Unmarshal(data, &patch); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	result, err := s.workflows.Update(ctx, workspaceID, workflowID, patch)
	if err != nil {
		return s.toolError(ctx, "workflow_update", err), nil
	}

	return marshalResult(result)
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, workflowID, errResult := workflowArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.workflows.Delete(ctx, workspaceID, workflowID); err != nil {
		return s.toolError(ctx, "workflow_delete", err), nil
	}

	return marshalResult(map[string]any{"ok": true, "workflow_id": workflowID})
}

func (s *Server) handleEnable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, workflowID, errResult := workflowArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	workflow, err := s.workflows.Enable(ctx, workspaceID, workflowID)
	if err != nil {
		return s.toolError(ctx, "workflow_enable", err), nil
	}

	return marshalResult(workflow)
}

func (s *Server) handleDisable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, workflowID, errResult := workflowArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	workflow, err := s.workflows.Disable(ctx, workspaceID, workflowID)
	if err != nil {
		return s.toolError(ctx, "workflow_disable", err), nil
	}

	return marshalResult(workflow)
}

func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, workflowID, errResult := workflowArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	response, err := s.executions.ExecuteWorkflow(ctx, workspaceID, workflowID, mcp.ParseStringMap(req, "input", nil))
	if err != nil {
		return s.toolError(ctx, "workflow_execute", err), nil
	}

	return marshalResult(response)
}

func (s *Server) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, workflowID, errResult := workflowArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	result, err := s.executions.GetExecutions(ctx, workspaceID, workflowID, req.GetInt("limit", 0), req.GetInt("offset", 0))
	if err != nil {
		return s.toolError(ctx, "workflow_executions", err), nil
	}

	return marshalResult(result)
}

func (s *Server) handleExecutionGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, executionID, errResult := executionArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	execution, err := s.executions.FetchByID(ctx, workspaceID, executionID)
	if err != nil {
		return s.toolError(ctx, "execution_get", err), nil
	}

	return marshalResult(execution)
}

func (s *Server) handleExecutionCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, executionID, errResult := executionArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	execution, err := s.executions.Cancel(ctx, workspaceID, executionID)
	if err != nil {
		return s.toolError(ctx, "execution_cancel", err), nil
	}

	return marshalResult(execution)
}

func (s *Server) handleEmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, err := req.RequireString("workspace_id")
	if err != nil {
		return mcp.NewToolResultError("workspace_id is required"), nil
	}

	triggerType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}

	event, err := s.ingestion.EmitEvent(ctx, workspaceID, models.TriggerType(triggerType), mcp.ParseStringMap(req, "context", nil))
	if err != nil {
		return s.toolError(ctx, "event_emit", err), nil
	}

	return marshalResult(event)
}

func workflowArgs(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	workspaceID, err := req.RequireString("workspace_id")
	if err != nil {
		return "", "", mcp.NewToolResultError("workspace_id is required")
	}

	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return "", "", mcp.NewToolResultError("workflow_id is required")
	}

	return workspaceID, workflowID, nil
}

func executionArgs(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	workspaceID, err := req.RequireString("workspace_id")
	if err != nil {
		return "", "", mcp.NewToolResultError("workspace_id is required")
	}

	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return "", "", mcp.NewToolResultError("execution_id is required")
	}

	return workspaceID, executionID, nil
}

// toolError reports client errors as they are and hides internal ones.
func (s *Server) toolError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	if services.IsValidationError(err) || services.IsNotFoundError(err) || services.IsConflictError(err) {
		return mcp.NewToolResultError(err.Error())
	}

	s.logger.ErrorContext(ctx, "Tool call failed", "tool", tool, "error", err)

	return mcp.NewToolResultError(tool + " failed: internal error")
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}

	return mcp.NewToolResultJSON(json.RawMessage(data))
}
