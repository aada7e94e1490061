package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTriggerEmitted(t *testing.T) {
	t.Parallel()

	trigger := models.TriggerEvent{
		ID:          "evt-1",
		WorkspaceID: "ws-1",
		Type:        models.TriggerLeadStatusChanged,
		Context:     map[string]any{"lead": map[string]any{"id": "lead-1"}},
	}

	event := events.NewTriggerEmitted(trigger)

	assert.Equal(t, events.TriggerEmittedEvent, event.GetType())
	assert.Equal(t, events.TriggerEmittedEvent, event.Type)
	assert.Equal(t, "ws-1", event.WorkspaceID)
	assert.NotEmpty(t, event.ID)

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"type":"lead_status_changed"`)

	var decoded events.TriggerEmitted

	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, trigger.Context, decoded.Trigger.Context)
}

func TestNewExecutionFinished_Duration(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	execution := &models.WorkflowExecution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		WorkspaceID: "ws-1",
		Status:      models.ExecutionFailed,
		Error:       "boom",
		Outcomes:    []models.ActionOutcome{{ActionID: "a"}, {ActionID: "b"}},
		StartedAt:   started,
		CompletedAt: &completed,
	}

	event := events.NewExecutionFinished(execution, "worker-1")

	assert.Equal(t, events.ExecutionFinishedEvent, event.GetType())
	assert.Equal(t, 90*time.Second, event.Duration)
	assert.Equal(t, 2, event.Actions)
	assert.Equal(t, "worker-1", event.WorkerID)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, "boom", event.Error)
}

func TestNewExecutionQueued(t *testing.T) {
	t.Parallel()

	event := events.NewExecutionQueued(&models.WorkflowExecution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		WorkspaceID: "ws-1",
	}, events.QueueResumed)

	assert.Equal(t, events.ExecutionQueuedEvent, event.GetType())
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, events.QueueResumed, event.Reason)
}
