package models

import "time"

// TriggerEvent is a committed CRM state change raised by an upstream handler.
type TriggerEvent struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Type        TriggerType    `json:"type"`
	Context     map[string]any `json:"context"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// EntityIDFromContext looks up the id of a lead or deal carried by an event
// context, either nested ({"lead": {"id": ...}}) or flat ({"lead_id": ...}).
func EntityIDFromContext(context map[string]any, kind EntityKind) string {
	key := string(kind)

	if entity, ok := context[key].(map[string]any); ok {
		if id, ok := entity["id"].(string); ok && id != "" {
			return id
		}
	}

	if id, ok := context[key+"_id"].(string); ok {
		return id
	}

	return ""
}

// SubjectEntityID returns the record the event is about: the lead, else the
// deal, else an explicit entity_id.
func SubjectEntityID(context map[string]any) string {
	for _, kind := range []EntityKind{EntityLead, EntityDeal} {
		if id := EntityIDFromContext(context, kind); id != "" {
			return id
		}
	}

	id, _ := context["entity_id"].(string)

	return id
}
