package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/xeipuuv/gojsonschema"
)

// subjectSchema requires the event to name its subject either as a nested
// object or as a flat id field.
func subjectSchema(subject, flatKey string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			subject: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string"},
				},
			},
			flatKey: map[string]any{"type": "string"},
		},
		"anyOf": []any{
			map[string]any{"required": []any{subject}},
			map[string]any{"required": []any{flatKey}},
		},
	}
}

// TriggerContextSchema returns the JSON schema an event context must satisfy.
func TriggerContextSchema(triggerType models.TriggerType) map[string]any {
	switch triggerType {
	case models.TriggerLeadCreated, models.TriggerLeadStatusChanged,
		models.TriggerLeadStageChanged, models.TriggerLeadContacted:
		return subjectSchema("lead", "lead_id")
	case models.TriggerDealCreated, models.TriggerDealStageChanged,
		models.TriggerDealWon, models.TriggerDealLost:
		return subjectSchema("deal", "deal_id")
	case models.TriggerActivityLogged, models.TriggerActivityCompleted:
		return subjectSchema("activity", "activity_type")
	case models.TriggerTaskCompleted:
		return subjectSchema("task", "task_id")
	default:
		return nil
	}
}

type Ingestion struct {
	publisher eventbus.EventPublisher
	schemas   map[models.TriggerType]*gojsonschema.Schema
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewIngestion compiles the context schemas of every trigger type.
func NewIngestion(publisher eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) (*Ingestion, error) {
	schemas := make(map[models.TriggerType]*gojsonschema.Schema, len(models.TriggerTypes))

	for _, triggerType := range models.TriggerTypes {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(TriggerContextSchema(triggerType)))
		if err != nil {
			return nil, fmt.Errorf("failed to compile context schema for %s: %w", triggerType, err)
		}

		schemas[triggerType] = schema
	}

	return &Ingestion{
		publisher: publisher,
		schemas:   schemas,
		clock:     clock,
		logger:    logger.With("module", "ingestion_service"),
	}, nil
}

// EmitEvent records a committed CRM change for matching. It returns the
// trigger event as published.
func (i *Ingestion) EmitEvent(ctx context.Context, workspaceID string, triggerType models.TriggerType, eventContext map[string]any) (*models.TriggerEvent, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, ErrWorkspaceRequired
	}

	schema, ok := i.schemas[triggerType]
	if !ok {
		return nil, NewValidationError(
			"EmitEvent",
			"INVALID_TRIGGER_TYPE",
			fmt.Sprintf("invalid trigger type '%s'", triggerType),
			ErrInvalidTriggerType,
		)
	}

	if eventContext == nil {
		eventContext = map[string]any{}
	}

	if err := validateContext(schema, eventContext); err != nil {
		return nil, NewValidationError("EmitEvent", "INVALID_CONTEXT", err.Error(), ErrInvalidContext)
	}

	event := models.TriggerEvent{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Type:        triggerType,
		Context:     eventContext,
		OccurredAt:  i.clock.Now().UTC(),
	}

	if err := i.publisher.Publish(ctx, event.ID, events.NewTriggerEmitted(event)); err != nil {
		return nil, fmt.Errorf("failed to publish trigger event: %w", err)
	}

	i.logger.DebugContext(ctx, "Trigger event emitted", "event_id", event.ID, "trigger_type", triggerType)

	return &event, nil
}

func validateContext(schema *gojsonschema.Schema, eventContext map[string]any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(eventContext))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
