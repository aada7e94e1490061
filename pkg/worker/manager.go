// Package worker turns trigger events into executions and advances queued
// executions through the workflow runner.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/timers"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const DefaultConcurrency = 8

// DefaultHeartbeatInterval keeps claims well inside the resumer's claim TTL.
const DefaultHeartbeatInterval = timers.DefaultClaimTTL / 5

// executionNamespace derives execution ids from (trigger event, workflow),
// so a redelivered trigger event cannot start the same run twice.
var executionNamespace = uuid.MustParse("8f1b7c3e-2d4a-4c55-9a51-0c6f3e2b7d10")

type Manager struct {
	id         string
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	matcher    *workflow.TriggerMatcher
	runner     *workflow.Runner
	eventBus   eventbus.EventBus
	timers     timers.Store
	clock      clockwork.Clock
	metrics    metrics.Metrics
	logger     *slog.Logger

	heartbeat time.Duration
	slots     chan struct{}
	wg        sync.WaitGroup
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithMetrics(mtr metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mtr }
}

// WithHeartbeatInterval sets how often a held claim is renewed. It must stay
// below the claim TTL the resumer uses to release abandoned executions.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.heartbeat = interval
		}
	}
}

// WithConcurrency bounds how many executions this process advances at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = make(chan struct{}, n)
		}
	}
}

func NewManager(
	id string,
	store persistence.Persistence,
	runner *workflow.Runner,
	eventBus eventbus.EventBus,
	timerStore timers.Store,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	logger = logger.With("module", "worker", "worker_id", id)

	manager := &Manager{
		id:         id,
		workflows:  store.WorkflowRepository(),
		executions: store.ExecutionRepository(),
		matcher:    workflow.NewTriggerMatcher(logger),
		runner:     runner,
		eventBus:   eventBus,
		timers:     timerStore,
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.Noop{},
		logger:     logger,
		heartbeat:  DefaultHeartbeatInterval,
		slots:      make(chan struct{}, DefaultConcurrency),
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

func (m *Manager) ID() string {
	return m.id
}

// Start registers the handlers and subscribes. It returns once consuming has begun.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting worker manager", "concurrency", cap(m.slots))

	err := m.eventBus.Handle(events.TriggerEmittedEvent, m.HandleTriggerEmitted)
	if err != nil {
		return err
	}

	err = m.eventBus.Handle(events.ExecutionQueuedEvent, m.HandleExecutionQueued)
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Stop waits for in-flight executions to be saved.
func (m *Manager) Stop() {
	m.wg.Wait()
	m.logger.Info("Worker stopped")
}

// HandleTriggerEmitted creates one pending execution per matching workflow and queues it.
func (m *Manager) HandleTriggerEmitted(ctx context.Context, event any) error {
	emitted, ok := event.(*events.TriggerEmitted)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for TriggerEmitted")

		return nil
	}

	trigger := emitted.Trigger
	logger := m.logger.With("trigger_event_id", trigger.ID, "trigger_type", trigger.Type, "workspace_id", trigger.WorkspaceID)

	candidates, err := m.workflows.ActiveByTrigger(ctx, trigger.WorkspaceID, trigger.Type)
	if err != nil {
		return fmt.Errorf("failed to load workflows for %s: %w", trigger.Type, err)
	}

	matches := m.matcher.Match(trigger, candidates)
	m.metrics.IncTriggerEvents(string(trigger.Type), len(matches))

	for _, match := range matches {
		execution := models.NewPendingExecution(
			executionID(trigger.ID, match.Workflow.ID),
			match.Workflow,
			trigger.Type,
			trigger.Context,
			m.clock.Now().UTC(),
		)

		err := m.executions.Create(ctx, execution)

		switch {
		case err == nil:
			m.metrics.IncExecutionsStarted(string(trigger.Type))
			logger.InfoContext(ctx, "Execution created", "workflow_id", match.Workflow.ID, "execution_id", execution.ID)
		case persistence.IsExecutionExists(err):
			logger.DebugContext(ctx, "Execution already created for this event", "execution_id", execution.ID)
		default:
			return err
		}

		err = m.eventBus.Publish(ctx, execution.ID, events.NewExecutionQueued(execution, events.QueueCreated))
		if err != nil {
			// The row is pending; the resumer's recovery sweep queues it later.
			logger.WarnContext(ctx, "Failed to queue execution", "execution_id", execution.ID, "error", err)
		}
	}

	return nil
}

func executionID(triggerEventID, workflowID string) string {
	if triggerEventID == "" {
		return uuid.NewString()
	}

	return uuid.NewSHA1(executionNamespace, []byte(triggerEventID+"/"+workflowID)).String()
}

// HandleExecutionQueued hands the execution to the pool. It blocks while
// the pool is full, which holds back the consumer.
func (m *Manager) HandleExecutionQueued(ctx context.Context, event any) error {
	queued, ok := event.(*events.ExecutionQueued)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for ExecutionQueued")

		return nil
	}

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.wg.Add(1)

	go func() {
		defer func() {
			<-m.slots
			m.wg.Done()
		}()

		if err := m.Process(ctx, queued.ExecutionID); err != nil {
			m.logger.ErrorContext(ctx, "Failed to process execution", "execution_id", queued.ExecutionID, "reason", queued.Reason, "error", err)
		}
	}()

	return nil
}

// Process claims one execution, advances it and saves the result. An
// execution held by someone else, finished or not yet due is skipped.
func (m *Manager) Process(ctx context.Context, executionID string) error {
	logger := m.logger.With("execution_id", executionID)

	execution, err := m.executions.Claim(ctx, executionID, m.id, m.clock.Now().UTC())
	if err != nil {
		if persistence.IsClaimConflict(err) || persistence.IsExecutionNotFound(err) {
			logger.DebugContext(ctx, "Execution not claimable, skipping", "error", err)

			return nil
		}

		return err
	}

	// Results are saved even when the worker is shutting down.
	saveCtx := context.WithoutCancel(ctx)

	definition, err := m.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		// Claim marked the run as running; resume_at makes it claimable again.
		retryAt := m.clock.Now().UTC()
		execution.ClaimedBy = ""
		execution.ResumeAt = &retryAt

		return errors.Join(err, m.executions.Save(saveCtx, m.id, execution))
	}

	var step workflow.Step

	runCtx, stopRun := context.WithCancel(ctx)
	beating := m.keepClaim(runCtx, stopRun, logger, executionID)

	if definition == nil {
		now := m.clock.Now().UTC()
		execution.Status = models.ExecutionFailed
		execution.Error = fmt.Sprintf("workflow %s no longer exists", execution.WorkflowID)
		execution.Continuation = nil
		execution.ResumeAt = nil
		execution.CompletedAt = &now
		step = workflow.StepFailed
	} else {
		step = m.runner.Advance(runCtx, execution, definition, &progress{manager: m, logger: logger})
	}

	stopRun()
	<-beating

	execution.ClaimedBy = ""

	if err := m.executions.Save(saveCtx, m.id, execution); err != nil {
		if persistence.IsClaimConflict(err) {
			logger.WarnContext(ctx, "Claim lost before save, result discarded", "step", step)

			return nil
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	switch step {
	case workflow.StepSuspended, workflow.StepInterrupted:
		if err := m.timers.Schedule(saveCtx, execution.ID, *execution.ResumeAt); err != nil {
			// The resumer's recovery sweep still finds the row by resume_at.
			logger.WarnContext(ctx, "Failed to schedule resume timer", "resume_at", execution.ResumeAt, "error", err)
		}

		logger.InfoContext(ctx, "Execution parked", "step", step, "resume_at", execution.ResumeAt)
	default:
		m.finished(saveCtx, logger, execution)
	}

	return nil
}

// keepClaim renews the claim until ctx ends. Losing the claim cancels the
// run, so the runner parks at the next boundary and its save is rejected.
func (m *Manager) keepClaim(ctx context.Context, stopRun context.CancelFunc, logger *slog.Logger, executionID string) <-chan struct{} {
	done := make(chan struct{})
	ticker := m.clock.NewTicker(m.heartbeat)

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				err := m.executions.Heartbeat(ctx, executionID, m.id, m.clock.Now().UTC())

				switch {
				case err == nil:
				case persistence.IsClaimConflict(err), persistence.IsExecutionNotFound(err):
					logger.WarnContext(ctx, "Claim lost, stopping execution", "error", err)
					stopRun()

					return
				case ctx.Err() == nil:
					logger.WarnContext(ctx, "Failed to renew claim", "error", err)
				}
			}
		}
	}()

	return done
}

// progress checkpoints a run through the execution store on behalf of the manager.
type progress struct {
	manager *Manager
	logger  *slog.Logger
}

func (p *progress) CancelRequested(ctx context.Context, executionID string) (bool, error) {
	return p.manager.executions.CancelRequested(ctx, executionID)
}

// Checkpoint saves outcomes so far and renews the claim. It runs even when
// the worker is shutting down, since the recorded side effects already happened.
func (p *progress) Checkpoint(ctx context.Context, execution *models.WorkflowExecution) error {
	m := p.manager
	ctx = context.WithoutCancel(ctx)

	if err := m.executions.Save(ctx, m.id, execution); err != nil {
		return err
	}

	if err := m.executions.Heartbeat(ctx, execution.ID, m.id, m.clock.Now().UTC()); err != nil {
		p.logger.WarnContext(ctx, "Failed to renew claim at checkpoint", "error", err)
	}

	return nil
}

func (m *Manager) finished(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution) {
	m.metrics.IncExecutionsFinished(string(execution.Status))

	finishedEvent := events.NewExecutionFinished(execution, m.id)
	m.metrics.ObserveExecutionDuration(string(execution.Status), finishedEvent.Duration.Seconds())

	if err := m.eventBus.Publish(ctx, execution.ID, finishedEvent); err != nil {
		logger.WarnContext(ctx, "Failed to publish execution finished event", "error", err)
	}

	logger.InfoContext(ctx, "Execution finished", "status", execution.Status, "outcomes", len(execution.Outcomes))
}
