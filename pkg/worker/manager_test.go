package worker_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/crmflow/pkg/channels/gochannel"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/timers"
	"github.com/dukex/crmflow/pkg/worker"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var startTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx        context.Context
	clock      *clockwork.FakeClock
	store      persistence.Persistence
	dispatcher *mocks.MockDispatcher
	crm        *mocks.MockCRM
	bus        eventbus.EventBus
	manager    *worker.Manager
	resumer    *timers.Resumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.Default()

	f := &fixture{
		ctx:        ctx,
		clock:      clockwork.NewFakeClockAt(startTime),
		store:      file.NewPersistence(t.TempDir()),
		dispatcher: &mocks.MockDispatcher{},
		crm:        &mocks.MockCRM{},
	}

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{}, 100)
	require.NoError(t, err)

	f.bus = eventbus.NewWatermillEventBus(pub, sub, logger)

	executor := workflow.NewExecutor(f.dispatcher, f.crm, f.clock, logger)
	runner := workflow.NewRunner(executor, logger, workflow.WithClock(f.clock))
	timerStore := timers.NewPersistenceStore(f.store.ExecutionRepository())

	f.manager = worker.NewManager("worker-test", f.store, runner, f.bus, timerStore, logger,
		worker.WithClock(f.clock),
		worker.WithConcurrency(2),
	)
	f.resumer = timers.NewResumer(f.store.ExecutionRepository(), timerStore, f.bus, logger,
		timers.WithClock(f.clock),
	)

	require.NoError(t, f.manager.Start(ctx))

	t.Cleanup(func() {
		cancel()
		f.manager.Stop()
		_ = f.bus.Close()
	})

	return f
}

func (f *fixture) saveWorkflow(t *testing.T, workflow *models.Workflow) {
	t.Helper()

	require.NoError(t, f.store.WorkflowRepository().Save(f.ctx, workflow))
}

func (f *fixture) executions(workflowID string) []*models.WorkflowExecution {
	result, err := f.store.ExecutionRepository().ListByWorkflow(f.ctx, workflowID, 100, 0)
	if err != nil {
		return nil
	}

	return result.Executions
}

func leadCreated(id, workspaceID string) *events.TriggerEmitted {
	return events.NewTriggerEmitted(models.TriggerEvent{
		ID:          id,
		WorkspaceID: workspaceID,
		Type:        models.TriggerLeadCreated,
		Context: map[string]any{
			"lead": map[string]any{"id": "lead-1", "name": "Ada", "phone": "+5511900000000"},
		},
		OccurredAt: startTime,
	})
}

func waitThenSMS() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-wait",
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Name:        "Follow up",
		TriggerType: models.TriggerLeadCreated,
		IsActive:    true,
		Actions: []models.WorkflowAction{
			{
				ID:     "sms-1",
				Type:   models.ActionSendSMS,
				Order:  2,
				Config: &models.SendSMSConfig{To: "{{lead.phone}}", Message: "Hi {{lead.name}}"},
			},
			{
				ID:     "wait-1",
				Type:   models.ActionWait,
				Order:  1,
				Config: &models.WaitConfig{Duration: 1, Unit: models.WaitHours},
			},
		},
	}
}

func TestManager_WaitSuspendsThenResumesAfterClockAdvance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveWorkflow(t, waitThenSMS())

	f.dispatcher.On("Send", mock.Anything, mock.MatchedBy(func(request workflow.DispatchRequest) bool {
		cfg, ok := request.Config.(*models.SendSMSConfig)

		return ok && cfg.To == "+5511900000000" && cfg.Message == "Hi Ada"
	})).Return(workflow.DispatchResult{Success: true, ProviderRef: "sms-ref"}, nil).Once()

	require.NoError(t, f.bus.Publish(f.ctx, "ws-1", leadCreated("evt-1", "ws-1")))

	var suspended *models.WorkflowExecution

	require.Eventually(t, func() bool {
		executions := f.executions("wf-wait")
		if len(executions) != 1 {
			return false
		}

		suspended = executions[0]

		return suspended.Suspended() && suspended.ClaimedBy == ""
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, models.ExecutionRunning, suspended.Status)
	require.Len(t, suspended.Outcomes, 1)
	assert.Equal(t, "wait-1", suspended.Outcomes[0].ActionID)
	assert.Equal(t, startTime.Add(time.Hour), *suspended.ResumeAt)
	f.dispatcher.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	// Not due yet.
	queued, err := f.resumer.Tick(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)

	f.clock.Advance(time.Hour)

	queued, err = f.resumer.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	require.Eventually(t, func() bool {
		execution, err := f.store.ExecutionRepository().GetByID(f.ctx, suspended.ID)

		return err == nil && execution.Status == models.ExecutionCompleted
	}, 5*time.Second, 20*time.Millisecond)

	execution, err := f.store.ExecutionRepository().GetByID(f.ctx, suspended.ID)
	require.NoError(t, err)
	require.Len(t, execution.Outcomes, 2)
	assert.Equal(t, "sms-1", execution.Outcomes[1].ActionID)
	assert.True(t, execution.Outcomes[1].Success)
	assert.Nil(t, execution.Continuation)
	assert.Nil(t, execution.ResumeAt)
	f.dispatcher.AssertExpectations(t)
}

func TestManager_RedeliveredTriggerCreatesOneExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveWorkflow(t, waitThenSMS())

	event := leadCreated("evt-dup", "ws-1")

	require.NoError(t, f.manager.HandleTriggerEmitted(f.ctx, event))
	require.NoError(t, f.manager.HandleTriggerEmitted(f.ctx, event))

	require.Eventually(t, func() bool {
		executions := f.executions("wf-wait")

		return len(executions) == 1 && executions[0].Suspended() && executions[0].ClaimedBy == ""
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_IgnoresOtherWorkspacesAndInactiveWorkflows(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	inactive := waitThenSMS()
	inactive.ID = "wf-inactive"
	inactive.IsActive = false
	f.saveWorkflow(t, inactive)
	f.saveWorkflow(t, waitThenSMS())

	require.NoError(t, f.manager.HandleTriggerEmitted(f.ctx, leadCreated("evt-other", "ws-2")))
	require.NoError(t, f.manager.HandleTriggerEmitted(f.ctx, leadCreated("evt-1", "ws-1")))

	require.Eventually(t, func() bool {
		return len(f.executions("wf-wait")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Empty(t, f.executions("wf-inactive"))
}

func TestManager_Process(t *testing.T) {
	t.Parallel()

	newManager := func(t *testing.T) (*worker.Manager, persistence.Persistence, *mocks.MockEventBus) {
		t.Helper()

		store := file.NewPersistence(t.TempDir())
		bus := &mocks.MockEventBus{}
		clock := clockwork.NewFakeClockAt(startTime)
		executor := workflow.NewExecutor(&mocks.MockDispatcher{}, &mocks.MockCRM{}, clock, slog.Default())
		runner := workflow.NewRunner(executor, slog.Default(), workflow.WithClock(clock))

		manager := worker.NewManager("worker-a", store, runner, bus, timers.NewPersistenceStore(store.ExecutionRepository()), slog.Default(),
			worker.WithClock(clock),
		)

		return manager, store, bus
	}

	t.Run("claimed elsewhere is skipped", func(t *testing.T) {
		t.Parallel()

		manager, store, bus := newManager(t)
		ctx := context.Background()

		execution := models.NewPendingExecution("exec-1", &models.Workflow{ID: "wf-1", WorkspaceID: "ws-1"}, models.TriggerDealWon, nil, startTime)
		require.NoError(t, store.ExecutionRepository().Create(ctx, execution))

		_, err := store.ExecutionRepository().Claim(ctx, "exec-1", "worker-b", startTime)
		require.NoError(t, err)

		require.NoError(t, manager.Process(ctx, "exec-1"))
		bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown execution is skipped", func(t *testing.T) {
		t.Parallel()

		manager, _, _ := newManager(t)

		assert.NoError(t, manager.Process(context.Background(), "missing"))
	})

	t.Run("deleted workflow fails the run", func(t *testing.T) {
		t.Parallel()

		manager, store, bus := newManager(t)
		ctx := context.Background()

		execution := models.NewPendingExecution("exec-1", &models.Workflow{ID: "wf-gone", WorkspaceID: "ws-1"}, models.TriggerDealWon, nil, startTime)
		require.NoError(t, store.ExecutionRepository().Create(ctx, execution))

		bus.On("Publish", mock.Anything, "exec-1", mock.MatchedBy(func(event eventbus.Event) bool {
			finished, ok := event.(*events.ExecutionFinished)

			return ok && finished.Status == models.ExecutionFailed && finished.WorkerID == "worker-a"
		})).Return(nil).Once()

		require.NoError(t, manager.Process(ctx, "exec-1"))

		stored, err := store.ExecutionRepository().GetByID(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionFailed, stored.Status)
		assert.Contains(t, stored.Error, "wf-gone")
		assert.Empty(t, stored.ClaimedBy)
		bus.AssertExpectations(t)
	})

	t.Run("empty workflow completes and publishes", func(t *testing.T) {
		t.Parallel()

		manager, store, bus := newManager(t)
		ctx := context.Background()

		definition := &models.Workflow{ID: "wf-1", WorkspaceID: "ws-1", Name: "noop", TriggerType: models.TriggerDealWon, IsActive: true}
		require.NoError(t, store.WorkflowRepository().Save(ctx, definition))

		execution := models.NewPendingExecution("exec-1", definition, models.TriggerDealWon, nil, startTime)
		require.NoError(t, store.ExecutionRepository().Create(ctx, execution))

		bus.On("Publish", mock.Anything, "exec-1", mock.AnythingOfType("*events.ExecutionFinished")).Return(nil).Once()

		require.NoError(t, manager.Process(ctx, "exec-1"))

		stored, err := store.ExecutionRepository().GetByID(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionCompleted, stored.Status)
		bus.AssertExpectations(t)

		// A second delivery of the same queue message finds nothing to do.
		require.NoError(t, manager.Process(ctx, "exec-1"))
		bus.AssertNumberOfCalls(t, "Publish", 1)
	})
}

func twoTasks() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-tasks",
		WorkspaceID: "ws-1",
		Name:        "Two tasks",
		TriggerType: models.TriggerDealWon,
		IsActive:    true,
		Actions: []models.WorkflowAction{
			{ID: "task-1", Type: models.ActionCreateTask, Order: 1, Config: &models.CreateTaskConfig{Title: "one"}},
			{ID: "task-2", Type: models.ActionCreateTask, Order: 2, Config: &models.CreateTaskConfig{Title: "two"}},
		},
	}
}

func onAction(actionID string) any {
	return mock.MatchedBy(func(request workflow.MutationRequest) bool {
		return request.ActionID == actionID
	})
}

type inFlight struct {
	ctx     context.Context
	clock   *clockwork.FakeClock
	store   persistence.Persistence
	crm     *mocks.MockCRM
	bus     *mocks.MockEventBus
	manager *worker.Manager
}

func newInFlight(t *testing.T) *inFlight {
	t.Helper()

	f := &inFlight{
		ctx:   context.Background(),
		clock: clockwork.NewFakeClockAt(startTime),
		store: file.NewPersistence(t.TempDir()),
		crm:   &mocks.MockCRM{},
		bus:   &mocks.MockEventBus{},
	}

	executor := workflow.NewExecutor(&mocks.MockDispatcher{}, f.crm, f.clock, slog.Default())
	runner := workflow.NewRunner(executor, slog.Default(), workflow.WithClock(f.clock))

	f.manager = worker.NewManager("worker-a", f.store, runner, f.bus, timers.NewPersistenceStore(f.store.ExecutionRepository()), slog.Default(),
		worker.WithClock(f.clock),
		worker.WithHeartbeatInterval(time.Minute),
	)

	definition := twoTasks()
	require.NoError(t, f.store.WorkflowRepository().Save(f.ctx, definition))
	require.NoError(t, f.store.ExecutionRepository().Create(f.ctx,
		models.NewPendingExecution("exec-1", definition, models.TriggerDealWon, nil, startTime)))

	return f
}

func (f *inFlight) stored(t *testing.T) *models.WorkflowExecution {
	t.Helper()

	execution, err := f.store.ExecutionRepository().GetByID(f.ctx, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, execution)

	return execution
}

func TestManager_Process_StoredRowTracksRunningExecution(t *testing.T) {
	t.Parallel()

	f := newInFlight(t)

	var duringFirst, duringSecond *models.WorkflowExecution

	f.crm.On("Apply", mock.Anything, onAction("task-1")).Run(func(mock.Arguments) {
		duringFirst = f.stored(t)
	}).Return(workflow.MutationResult{Success: true}, nil).Once()

	f.crm.On("Apply", mock.Anything, onAction("task-2")).Run(func(mock.Arguments) {
		duringSecond = f.stored(t)
	}).Return(workflow.MutationResult{Success: true}, nil).Once()

	f.bus.On("Publish", mock.Anything, "exec-1", mock.AnythingOfType("*events.ExecutionFinished")).Return(nil).Once()

	require.NoError(t, f.manager.Process(f.ctx, "exec-1"))

	require.NotNil(t, duringFirst)
	assert.Equal(t, models.ExecutionRunning, duringFirst.Status)
	assert.Equal(t, "worker-a", duringFirst.ClaimedBy)
	assert.Empty(t, duringFirst.Outcomes)

	require.NotNil(t, duringSecond)
	assert.Equal(t, models.ExecutionRunning, duringSecond.Status)
	require.Len(t, duringSecond.Outcomes, 1)
	assert.Equal(t, "task-1", duringSecond.Outcomes[0].ActionID)
	require.NotNil(t, duringSecond.Continuation)
	require.Len(t, duringSecond.Continuation.Frames[0].Actions, 1)
	assert.Equal(t, "task-2", duringSecond.Continuation.Frames[0].Actions[0].ID)

	final := f.stored(t)
	assert.Equal(t, models.ExecutionCompleted, final.Status)
	assert.Len(t, final.Outcomes, 2)
	assert.Empty(t, final.ClaimedBy)
	f.crm.AssertExpectations(t)
	f.bus.AssertExpectations(t)
}

func TestManager_Process_HeartbeatKeepsClaimDuringSlowAction(t *testing.T) {
	t.Parallel()

	f := newInFlight(t)
	repo := f.store.ExecutionRepository()

	f.crm.On("Apply", mock.Anything, onAction("task-1")).Run(func(mock.Arguments) {
		f.clock.Advance(time.Minute)

		require.Eventually(t, func() bool {
			claimedAt := f.stored(t).ClaimedAt

			return claimedAt != nil && claimedAt.Equal(startTime.Add(time.Minute))
		}, 5*time.Second, 10*time.Millisecond)

		released, err := repo.ReleaseStale(f.ctx, startTime.Add(30*time.Second), startTime.Add(time.Minute))
		assert.NoError(t, err)
		assert.Zero(t, released)

		_, err = repo.Claim(f.ctx, "exec-1", "worker-b", startTime.Add(time.Minute))
		assert.True(t, persistence.IsClaimConflict(err))
	}).Return(workflow.MutationResult{Success: true}, nil).Once()

	f.crm.On("Apply", mock.Anything, onAction("task-2")).Return(workflow.MutationResult{Success: true}, nil).Once()
	f.bus.On("Publish", mock.Anything, "exec-1", mock.AnythingOfType("*events.ExecutionFinished")).Return(nil).Once()

	require.NoError(t, f.manager.Process(f.ctx, "exec-1"))

	assert.Equal(t, models.ExecutionCompleted, f.stored(t).Status)
	f.crm.AssertExpectations(t)
}

func TestManager_Process_LostClaimStopsRun(t *testing.T) {
	t.Parallel()

	f := newInFlight(t)
	repo := f.store.ExecutionRepository()

	f.crm.On("Apply", mock.Anything, onAction("task-1")).Run(func(mock.Arguments) {
		// Another worker takes over after the claim expired.
		_, err := repo.ReleaseStale(f.ctx, startTime.Add(time.Hour), startTime.Add(time.Hour))
		assert.NoError(t, err)

		_, err = repo.Claim(f.ctx, "exec-1", "worker-b", startTime.Add(time.Hour))
		assert.NoError(t, err)
	}).Return(workflow.MutationResult{Success: true}, nil).Once()

	require.NoError(t, f.manager.Process(f.ctx, "exec-1"))

	stored := f.stored(t)
	assert.Equal(t, "worker-b", stored.ClaimedBy)
	assert.Empty(t, stored.Outcomes)
	f.crm.AssertNotCalled(t, "Apply", mock.Anything, onAction("task-2"))
	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
