package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/timers"
	"github.com/dukex/crmflow/pkg/worker"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

// WorkerConfig carries the settings shared by crmflow-worker and the API's
// embedded worker.
type WorkerConfig struct {
	ID             string
	Concurrency    int
	ResumeInterval time.Duration
	DispatchURL    string
	CRMURL         string
	APIToken       string
}

type WorkerDeps struct {
	Store    persistence.Persistence
	EventBus eventbus.EventBus
	Timers   timers.Store
	Metrics  metrics.Metrics
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// StartWorker wires the executor, runner, worker manager and resumer and
// starts consuming. The returned stop function waits for in-flight work.
func StartWorker(ctx context.Context, cfg WorkerConfig, deps WorkerDeps) (func(), error) {
	dispatcher, err := NewDispatcher(cfg.DispatchURL, cfg.APIToken, deps.Logger)
	if err != nil {
		return nil, err
	}

	crm, err := NewCRM(cfg.CRMURL, cfg.APIToken, deps.Logger)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	executor := workflow.NewExecutor(dispatcher, crm, clock, deps.Logger)

	runnerOpts := []workflow.RunnerOption{
		workflow.WithClock(clock),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithCustomFields(deps.Store.CustomFieldRepository()),
	}
	if deps.Tracer != nil {
		runnerOpts = append(runnerOpts, workflow.WithTracer(deps.Tracer))
	}

	runner := workflow.NewRunner(executor, deps.Logger, runnerOpts...)

	manager := worker.NewManager(cfg.ID, deps.Store, runner, deps.EventBus, deps.Timers, deps.Logger,
		worker.WithMetrics(deps.Metrics),
		worker.WithConcurrency(cfg.Concurrency),
	)

	resumerOpts := []timers.ResumerOption{timers.WithMetrics(deps.Metrics)}
	if cfg.ResumeInterval > 0 {
		resumerOpts = append(resumerOpts, timers.WithInterval(cfg.ResumeInterval))
	}

	resumer := timers.NewResumer(deps.Store.ExecutionRepository(), deps.Timers, deps.EventBus, deps.Logger, resumerOpts...)

	if err := manager.Start(ctx); err != nil {
		return nil, err
	}

	if err := resumer.Start(ctx); err != nil {
		manager.Stop()

		return nil, err
	}

	return func() {
		resumer.Stop()
		manager.Stop()
	}, nil
}
