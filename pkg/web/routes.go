package web

import (
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
)

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Post("/events", h.EmitEvent)

	router.Put("/entities/:entityId/custom-fields/:fieldId", h.SetCustomField)
	router.Get("/entities/:entityId/custom-fields/:fieldId", h.GetCustomField)

	router.Get("/catalog/triggers", h.TriggerCatalog)
	router.Get("/catalog/actions", h.ActionCatalog)

	router.Get("/health", h.HealthCheck)
	router.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}
