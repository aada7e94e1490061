package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Step is the result of advancing an execution.
type Step string

const (
	StepCompleted Step = "completed"
	StepFailed    Step = "failed"
	StepCancelled Step = "cancelled"
	// StepSuspended means a wait parked the run until execution.ResumeAt.
	StepSuspended Step = "suspended"
	// StepInterrupted means the worker context ended between actions; the
	// run can be picked up again immediately.
	StepInterrupted Step = "interrupted"
)

// Progress is the store's side of a run. CancelRequested is polled at each
// action boundary; Checkpoint receives the execution after every recorded
// outcome, with the remaining frames as its continuation, so a run picked up
// by another worker starts after the last finished action.
type Progress interface {
	CancelRequested(ctx context.Context, executionID string) (bool, error)
	Checkpoint(ctx context.Context, execution *models.WorkflowExecution) error
}

// Runner walks a workflow's action tree for one execution.
type Runner struct {
	executor     *Executor
	customFields CustomFieldStore
	clock        clockwork.Clock
	tracer       trace.Tracer
	metrics      metrics.Metrics
	logger       *slog.Logger
}

type RunnerOption func(*Runner)

func WithClock(clock clockwork.Clock) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = tracer }
}

func WithMetrics(m metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithCustomFields(store CustomFieldStore) RunnerOption {
	return func(r *Runner) { r.customFields = store }
}

func NewRunner(executor *Executor, logger *slog.Logger, opts ...RunnerOption) *Runner {
	runner := &Runner{
		executor: executor,
		clock:    clockwork.NewRealClock(),
		tracer:   otel.Tracer("github.com/dukex/crmflow/pkg/workflow"),
		metrics:  metrics.Noop{},
		logger:   logger.With("module", "workflow_runner"),
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Advance runs the execution from where it stopped until it completes,
// fails, is cancelled or suspends on a wait. The execution is updated in
// place; persisting the final state is the caller's job. A failed
// checkpoint parks the run, since later outcomes could not be recorded.
func (r *Runner) Advance(
	ctx context.Context,
	execution *models.WorkflowExecution,
	workflow *models.Workflow,
	progress Progress,
) Step {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.advance",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(execution.TriggerType)),
	)
	defer span.End()

	logger := r.logger.With("execution_id", execution.ID, "workflow_id", workflow.ID)

	frames := r.frames(execution, workflow)

	execution.Status = models.ExecutionRunning
	execution.Continuation = nil
	execution.ResumeAt = nil

	evalCtx := EvalContext{
		ExecutionID:  execution.ID,
		WorkspaceID:  execution.WorkspaceID,
		Trigger:      execution.TriggerContext,
		Outcomes:     execution.OutcomeIndex(),
		CustomFields: r.customFields,
	}

	for {
		if len(frames) == 0 {
			logger.InfoContext(ctx, "Execution completed", "outcomes", len(execution.Outcomes))

			return r.finish(execution, models.ExecutionCompleted, "")
		}

		top := &frames[len(frames)-1]

		if len(top.Actions) == 0 {
			finished := *top
			frames = frames[:len(frames)-1]

			if finished.OwnerID != "" {
				outcome := models.ActionOutcome{
					ActionID:    finished.OwnerID,
					ActionType:  models.ActionCondition,
					Success:     !finished.Failed,
					Output:      map[string]any{"branch": finished.Branch, "result": finished.Result},
					StartedAt:   finished.StartedAt,
					CompletedAt: r.now(),
				}
				if !outcome.Success {
					outcome.Error = "one or more actions in the " + finished.Branch + " branch failed"
				}

				r.record(execution, evalCtx, outcome)

				if !outcome.Success && len(frames) > 0 {
					frames[len(frames)-1].Failed = true
				}

				if err := r.checkpoint(ctx, progress, execution, frames); err != nil {
					logger.WarnContext(ctx, "Checkpoint failed, parking execution", "error", err)

					return r.park(execution, frames, r.now())
				}
			}

			continue
		}

		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Execution interrupted between actions", "error", ctx.Err())

			return r.park(execution, frames, r.now())
		}

		if r.cancelRequested(ctx, progress, execution, logger) {
			logger.InfoContext(ctx, "Execution cancelled at action boundary")

			return r.finish(execution, models.ExecutionCancelled, "")
		}

		action := top.Actions[0]
		top.Actions = top.Actions[1:]

		switch config := action.Config.(type) {
		case *models.ConditionActionConfig:
			branch, result, actions, err := r.executor.ChooseBranch(ctx, config, evalCtx)
			if err != nil {
				return r.fail(ctx, span, logger, execution, fmt.Errorf("condition %s: %w", action.ID, err))
			}

			logger.DebugContext(ctx, "Condition evaluated", "action_id", action.ID, "branch", branch)

			frames = append(frames, models.Frame{
				OwnerID:   action.ID,
				Branch:    branch,
				Result:    result,
				Actions:   models.SortedActions(actions),
				StartedAt: r.now(),
			})

		case *models.WaitConfig:
			delay, err := config.Delay()
			if err != nil {
				return r.fail(ctx, span, logger, execution, fmt.Errorf("wait %s: %w", action.ID, err))
			}

			now := r.now()
			resumeAt := now.Add(delay)

			r.record(execution, evalCtx, models.ActionOutcome{
				ActionID:    action.ID,
				ActionType:  models.ActionWait,
				Success:     true,
				Output:      map[string]any{"resume_at": resumeAt.Format(time.RFC3339), "delay_seconds": int64(delay.Seconds())},
				StartedAt:   now,
				CompletedAt: now,
			})

			logger.InfoContext(ctx, "Execution suspended on wait", "action_id", action.ID, "resume_at", resumeAt)
			r.metrics.IncExecutionsSuspended()

			r.park(execution, frames, resumeAt)

			return StepSuspended

		default:
			if action.Type.Category() == models.CategoryFlowControl {
				return r.fail(ctx, span, logger, execution, fmt.Errorf("action %s: malformed %s config", action.ID, action.Type))
			}

			outcome := r.executeLeaf(ctx, action, evalCtx)
			r.record(execution, evalCtx, outcome)

			if !outcome.Success {
				top.Failed = true
			}

			if err := r.checkpoint(ctx, progress, execution, frames); err != nil {
				logger.WarnContext(ctx, "Checkpoint failed, parking execution", "action_id", action.ID, "error", err)

				return r.park(execution, frames, r.now())
			}
		}
	}
}

func (r *Runner) executeLeaf(ctx context.Context, action models.WorkflowAction, evalCtx EvalContext) models.ActionOutcome {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.action",
		attribute.String(otelhelper.ActionIDKey, action.ID),
		attribute.String(otelhelper.ActionTypeKey, string(action.Type)),
	)
	defer span.End()

	outcome := r.executor.Execute(ctx, action, evalCtx)
	otelhelper.SetActionResult(span, outcome.Success, outcome.Error)

	return outcome
}

// frames returns the continuation of a resumed run or the top-level list.
func (r *Runner) frames(execution *models.WorkflowExecution, workflow *models.Workflow) []models.Frame {
	if execution.Continuation != nil {
		return execution.Continuation.Frames
	}

	return []models.Frame{{
		Actions:   models.SortedActions(workflow.Actions),
		StartedAt: r.now(),
	}}
}

func (r *Runner) record(execution *models.WorkflowExecution, evalCtx EvalContext, outcome models.ActionOutcome) {
	execution.Outcomes = append(execution.Outcomes, outcome)
	evalCtx.Outcomes[outcome.ActionID] = outcome

	r.metrics.IncActionOutcome(string(outcome.ActionType), outcome.Success)
}

func (r *Runner) checkpoint(ctx context.Context, progress Progress, execution *models.WorkflowExecution, frames []models.Frame) error {
	if progress == nil {
		return nil
	}

	execution.Continuation = &models.Continuation{Frames: append([]models.Frame(nil), frames...)}
	execution.ResumeAt = nil

	err := progress.Checkpoint(ctx, execution)
	execution.Continuation = nil

	return err
}

func (r *Runner) cancelRequested(ctx context.Context, progress Progress, execution *models.WorkflowExecution, logger *slog.Logger) bool {
	if execution.CancelRequested {
		return true
	}

	if progress == nil {
		return false
	}

	requested, err := progress.CancelRequested(ctx, execution.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to check cancellation, continuing", "error", err)

		return false
	}

	if requested {
		execution.CancelRequested = true
	}

	return requested
}

// park stores the remaining frames so another worker can resume them.
func (r *Runner) park(execution *models.WorkflowExecution, frames []models.Frame, resumeAt time.Time) Step {
	execution.Continuation = &models.Continuation{Frames: frames}
	execution.ResumeAt = &resumeAt

	return StepInterrupted
}

func (r *Runner) fail(ctx context.Context, span trace.Span, logger *slog.Logger, execution *models.WorkflowExecution, err error) Step {
	logger.ErrorContext(ctx, "Execution failed", "error", err)
	otelhelper.SetError(span, err)

	return r.finish(execution, models.ExecutionFailed, err.Error())
}

func (r *Runner) finish(execution *models.WorkflowExecution, status models.ExecutionStatus, message string) Step {
	now := r.now()

	execution.Status = status
	execution.Error = message
	execution.Continuation = nil
	execution.ResumeAt = nil
	execution.CompletedAt = &now

	switch status {
	case models.ExecutionFailed:
		return StepFailed
	case models.ExecutionCancelled:
		return StepCancelled
	default:
		return StepCompleted
	}
}

func (r *Runner) now() time.Time {
	return r.clock.Now().UTC()
}
