// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService    *services.Workflow
	executionService   *services.Execution
	ingestionService   *services.Ingestion
	customFieldService *services.CustomField
	validator          *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	ingestionService *services.Ingestion,
	customFieldService *services.CustomField,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:    workflowService,
		executionService:   executionService,
		ingestionService:   ingestionService,
		customFieldService: customFieldService,
		validator:          validator,
	}
}

func workspaceID(c fiber.Ctx) (string, bool) {
	id := strings.TrimSpace(c.Get(WorkspaceHeader))

	return id, id != ""
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}
	req.WorkspaceID, _ = workspaceID(c)

	limit, offset, err := parsePagination(c)
	if err != nil {
		return nil, err
	}

	req.Limit = limit
	req.Offset = offset

	req.UserID = c.Query("user_id")
	req.TriggerType = models.TriggerType(c.Query("trigger_type"))

	if activeStr := c.Query("is_active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.IsActive = &active
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func parsePagination(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = parsed
	}

	return limit, offset, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), workspace, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "crmflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "crmflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	userID := strings.TrimSpace(c.Get(UserHeader))
	if userID == "" {
		return badRequest(c, UserHeader+" header is required")
	}

	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Create(c.Context(), &models.Workflow{
		WorkspaceID:   workspace,
		UserID:        userID,
		Name:          req.Name,
		Description:   req.Description,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		IsActive:      req.IsActive,
		Actions:       req.Actions,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Update(c.Context(), workspace, c.Params("id"), services.WorkflowPatch{
		Name:          req.Name,
		Description:   req.Description,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		IsActive:      req.IsActive,
		Actions:       req.Actions,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	if err := h.workflowService.Delete(c.Context(), workspace, c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	workflow, err := h.workflowService.Enable(c.Context(), workspace, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	workflow, err := h.workflowService.Disable(c.Context(), workspace, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	var req ExecuteWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	response, err := h.executionService.ExecuteWorkflow(c.Context(), workspace, c.Params("id"), req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	limit, offset, err := parsePagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.executionService.GetExecutions(c.Context(), workspace, c.Params("id"), limit, offset)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	execution, err := h.executionService.FetchByID(c.Context(), workspace, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	execution, err := h.executionService.Cancel(c.Context(), workspace, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) EmitEvent(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	var req EmitEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.ingestionService.EmitEvent(c.Context(), workspace, req.Type, req.Context)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(event)
}

func (h *APIHandlers) SetCustomField(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	var req SetCustomFieldRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	err := h.customFieldService.Set(c.Context(), workspace, c.Params("entityId"), c.Params("fieldId"), req.Value)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetCustomField(c fiber.Ctx) error {
	workspace, ok := workspaceID(c)
	if !ok {
		return badRequest(c, WorkspaceHeader+" header is required")
	}

	value, found, err := h.customFieldService.Get(c.Context(), workspace, c.Params("entityId"), c.Params("fieldId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !found {
		return notFound(c, "custom_field_not_found", "custom field has no value")
	}

	return c.JSON(fiber.Map{"value": value})
}

func (h *APIHandlers) TriggerCatalog(c fiber.Ctx) error {
	entries := make([]TriggerCatalogEntry, 0, len(models.TriggerTypes))

	for _, triggerType := range models.TriggerTypes {
		entries = append(entries, TriggerCatalogEntry{
			Type:          triggerType,
			ConfigKeys:    workflow.TriggerConfigKeys(triggerType),
			ContextSchema: services.TriggerContextSchema(triggerType),
		})
	}

	return c.JSON(entries)
}

func (h *APIHandlers) ActionCatalog(c fiber.Ctx) error {
	entries := make([]ActionCatalogEntry, 0, len(models.ActionTypes))

	for _, actionType := range models.ActionTypes {
		entry := ActionCatalogEntry{Type: actionType, Category: actionType.Category()}

		if channel, ok := workflow.ChannelFor(actionType); ok {
			entry.Channel = string(channel)
		}

		entries = append(entries, entry)
	}

	return c.JSON(entries)
}
