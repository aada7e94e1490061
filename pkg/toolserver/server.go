// Package toolserver exposes workflow operations as MCP tools so agents can
// build, run and inspect CRM workflows.
package toolserver

import (
	"context"
	"log/slog"
	"os"

	"github.com/dukex/crmflow/pkg/services"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Deps holds the services the tools delegate to.
type Deps struct {
	Workflows  *services.Workflow
	Executions *services.Execution
	Ingestion  *services.Ingestion
	Logger     *slog.Logger
}

// Server wraps an MCP server with the crmflow tool handlers.
type Server struct {
	workflows  *services.Workflow
	executions *services.Execution
	ingestion  *services.Ingestion
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

func New(deps Deps, version string) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		workflows:  deps.Workflows,
		executions: deps.Executions,
		ingestion:  deps.Ingestion,
		logger:     logger.With("module", "toolserver"),
	}

	mcpSrv := server.NewMCPServer(
		"crmflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("crmflow automates CRM follow-ups. Create workflows with workflow_create, "+
			"turn them on with workflow_enable, run them with workflow_execute or by reporting CRM changes "+
			"with event_emit, and inspect runs with workflow_executions and execution_get."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: updateTool(), Handler: s.handleUpdate},
		{Tool: workflowIDTool("workflow_delete", "Delete a workflow"), Handler: s.handleDelete},
		{Tool: workflowIDTool("workflow_enable", "Enable a workflow so CRM events start it"), Handler: s.handleEnable},
		{Tool: workflowIDTool("workflow_disable", "Disable a workflow; running executions continue"), Handler: s.handleDisable},
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: executionsTool(), Handler: s.handleExecutions},
		{Tool: executionIDTool("execution_get", "Get an execution with its action outcomes"), Handler: s.handleExecutionGet},
		{Tool: executionIDTool("execution_cancel", "Cancel a pending or running execution"), Handler: s.handleExecutionCancel},
		{Tool: emitTool(), Handler: s.handleEmit},
	}
}

func workspaceArg() mcp.ToolOption {
	return mcp.WithString("workspace_id", mcp.Required(), mcp.Description("Workspace that owns the workflow"))
}

func listTool() mcp.Tool {
	return mcp.NewTool("workflow_list",
		mcp.WithDescription("List workflows of a workspace"),
		workspaceArg(),
		mcp.WithString("trigger_type", mcp.Description("Only workflows listening to this trigger")),
		mcp.WithBoolean("is_active", mcp.Description("Only enabled or only disabled workflows")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
		mcp.WithNumber("offset", mcp.Description("Items to skip")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("workflow_get",
		mcp.WithDescription("Get a workflow with its trigger and action tree"),
		workspaceArg(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
	)
}

func createTool() mcp.Tool {
	return mcp.NewTool("workflow_create",
		mcp.WithDescription("Create a workflow. Actions follow the shape {type, order, config}; "+
			"condition actions carry {condition, if_branch, else_branch} in config."),
		workspaceArg(),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User creating the workflow")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("trigger_type", mcp.Required(), mcp.Description("CRM event that starts the workflow")),
		mcp.WithObject("trigger_config", mcp.Description("Filters on the trigger event, e.g. {\"status\": \"won\"}")),
		mcp.WithArray("actions", mcp.Description("Ordered action list"), mcp.Items(map[string]any{"type": "object"})),
		mcp.WithBoolean("is_active", mcp.Description("Enable the workflow immediately")),
	)
}

func updateTool() mcp.Tool {
	return mcp.NewTool("workflow_update",
		mcp.WithDescription("Change fields of a workflow; omitted fields keep their value. "+
			"Passing actions replaces the whole action list."),
		workspaceArg(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
		mcp.WithString("name", mcp.Description("Workflow name")),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("trigger_type", mcp.Description("CRM event that starts the workflow")),
		mcp.WithObject("trigger_config", mcp.Description("Filters on the trigger event")),
		mcp.WithArray("actions", mcp.Description("Ordered action list"), mcp.Items(map[string]any{"type": "object"})),
		mcp.WithBoolean("is_active", mcp.Description("Enable or disable the workflow")),
	)
}

func workflowIDTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		workspaceArg(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("workflow_execute",
		mcp.WithDescription("Start a run of an enabled workflow. Returns immediately with status pending."),
		workspaceArg(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
		mcp.WithObject("input", mcp.Description("Trigger context for the run, e.g. {\"lead\": {\"id\": \"...\"}}")),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("workflow_executions",
		mcp.WithDescription("List the executions of a workflow, newest first"),
		workspaceArg(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
		mcp.WithNumber("offset", mcp.Description("Items to skip")),
	)
}

func executionIDTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		workspaceArg(),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution ID")),
	)
}

func emitTool() mcp.Tool {
	return mcp.NewTool("event_emit",
		mcp.WithDescription("Report a committed CRM change so matching workflows run"),
		workspaceArg(),
		mcp.WithString("type", mcp.Required(), mcp.Description("Trigger type, e.g. lead_created")),
		mcp.WithObject("context", mcp.Required(), mcp.Description("Event payload, e.g. {\"lead\": {\"id\": \"...\"}}")),
	)
}
