// Package events defines the messages exchanged between the API, the worker and the resumer.
package events

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const (
	Topic = "crmflow.events"

	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	TriggerEmittedEvent    EventType = "trigger.emitted"
	ExecutionQueuedEvent   EventType = "execution.queued"
	ExecutionFinishedEvent EventType = "execution.finished"
)

// QueueReason tells the worker why an execution was queued.
type QueueReason string

const (
	QueueCreated   QueueReason = "created"
	QueueManual    QueueReason = "manual"
	QueueResumed   QueueReason = "resumed"
	QueueRecovered QueueReason = "recovered"
)

type BaseEvent struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	WorkspaceID string            `json:"workspace_id"`
	WorkflowID  string            `json:"workflow_id,omitempty"`
	WorkerID    string            `json:"worker_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workspaceID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkspaceID: workspaceID,
		WorkflowID:  workflowID,
	}
}

// TriggerEmitted carries a committed CRM change to the worker for matching.
type TriggerEmitted struct {
	BaseEvent

	Trigger models.TriggerEvent `json:"trigger"`
}

func (e TriggerEmitted) GetType() EventType {
	return TriggerEmittedEvent
}

func NewTriggerEmitted(trigger models.TriggerEvent) *TriggerEmitted {
	return &TriggerEmitted{
		BaseEvent: NewBaseEvent(TriggerEmittedEvent, trigger.WorkspaceID, ""),
		Trigger:   trigger,
	}
}

// ExecutionQueued asks a worker to claim and advance an execution.
type ExecutionQueued struct {
	BaseEvent

	ExecutionID string      `json:"execution_id"`
	Reason      QueueReason `json:"reason"`
}

func (e ExecutionQueued) GetType() EventType {
	return ExecutionQueuedEvent
}

func NewExecutionQueued(execution *models.WorkflowExecution, reason QueueReason) *ExecutionQueued {
	return &ExecutionQueued{
		BaseEvent:   NewBaseEvent(ExecutionQueuedEvent, execution.WorkspaceID, execution.WorkflowID),
		ExecutionID: execution.ID,
		Reason:      reason,
	}
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Actions     int                    `json:"actions"`
	Duration    time.Duration          `json:"duration"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

func NewExecutionFinished(execution *models.WorkflowExecution, workerID string) *ExecutionFinished {
	event := &ExecutionFinished{
		BaseEvent:   NewBaseEvent(ExecutionFinishedEvent, execution.WorkspaceID, execution.WorkflowID),
		ExecutionID: execution.ID,
		Status:      execution.Status,
		Error:       execution.Error,
		Actions:     len(execution.Outcomes),
	}

	event.WorkerID = workerID

	if execution.CompletedAt != nil {
		event.Duration = execution.CompletedAt.Sub(execution.StartedAt)
	}

	return event
}
