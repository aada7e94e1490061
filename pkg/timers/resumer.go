package timers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval      = 5 * time.Second
	DefaultClaimTTL      = 5 * time.Minute
	DefaultRecoveryGrace = time.Minute
	DefaultBatchSize     = 100
)

// Resumer periodically re-queues executions whose wait elapsed, plus any
// pending or suspended execution that fell through the cracks (a lost
// queue message, a worker that died holding a claim).
type Resumer struct {
	executions persistence.ExecutionRepository
	timers     Store
	publisher  eventbus.EventPublisher
	clock      clockwork.Clock
	metrics    metrics.Metrics
	logger     *slog.Logger

	interval      time.Duration
	claimTTL      time.Duration
	recoveryGrace time.Duration
	batchSize     int

	cron *cron.Cron
}

type ResumerOption func(*Resumer)

func WithClock(clock clockwork.Clock) ResumerOption {
	return func(r *Resumer) { r.clock = clock }
}

func WithMetrics(m metrics.Metrics) ResumerOption {
	return func(r *Resumer) { r.metrics = m }
}

func WithInterval(interval time.Duration) ResumerOption {
	return func(r *Resumer) { r.interval = interval }
}

// WithClaimTTL sets how long a claim may be held before it is considered abandoned.
func WithClaimTTL(ttl time.Duration) ResumerOption {
	return func(r *Resumer) { r.claimTTL = ttl }
}

func WithRecoveryGrace(grace time.Duration) ResumerOption {
	return func(r *Resumer) { r.recoveryGrace = grace }
}

func WithBatchSize(size int) ResumerOption {
	return func(r *Resumer) { r.batchSize = size }
}

func NewResumer(
	executions persistence.ExecutionRepository,
	timers Store,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...ResumerOption,
) *Resumer {
	resumer := &Resumer{
		executions:    executions,
		timers:        timers,
		publisher:     publisher,
		clock:         clockwork.NewRealClock(),
		metrics:       metrics.Noop{},
		logger:        logger.With("module", "resumer"),
		interval:      DefaultInterval,
		claimTTL:      DefaultClaimTTL,
		recoveryGrace: DefaultRecoveryGrace,
		batchSize:     DefaultBatchSize,
	}

	for _, opt := range opts {
		opt(resumer)
	}

	return resumer
}

// Start runs Tick on a cron schedule until Stop is called.
func (r *Resumer) Start(ctx context.Context) error {
	cronLog := cronLogger{logger: r.logger}

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))

	spec := "@every " + r.interval.String()

	_, err := r.cron.AddFunc(spec, func() {
		if _, err := r.Tick(ctx); err != nil {
			r.logger.ErrorContext(ctx, "Resumer tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid resumer schedule %q: %w", spec, err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Resumer started", "interval", r.interval, "claim_ttl", r.claimTTL)

	return nil
}

// Stop waits for a running tick to return.
func (r *Resumer) Stop() {
	if r.cron == nil {
		return
	}

	<-r.cron.Stop().Done()
	r.logger.Info("Resumer stopped")
}

// Tick performs one pass and returns how many executions were queued.
func (r *Resumer) Tick(ctx context.Context) (int, error) {
	now := r.clock.Now().UTC()

	sweepBefore := now.Add(-r.recoveryGrace)

	released, err := r.executions.ReleaseStale(ctx, now.Add(-r.claimTTL), now)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to release stale claims", "error", err)
	} else if released > 0 {
		r.logger.WarnContext(ctx, "Released stale claims", "count", released)

		sweepBefore = now
	}

	due, err := r.timers.Due(ctx, now, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read due timers: %w", err)
	}

	overdue, err := r.executions.Due(ctx, sweepBefore, r.batchSize)
	if err != nil {
		r.logger.WarnContext(ctx, "Recovery sweep failed", "error", err)
	}

	seen := make(map[string]bool, len(due)+len(overdue))
	done := make([]string, 0, len(due))
	queued := 0

	for _, id := range append(due, overdue...) {
		if seen[id] {
			continue
		}

		seen[id] = true

		execution, err := r.executions.GetByID(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to load execution", "execution_id", id, "error", err)

			continue
		}

		if execution == nil || execution.Status.Terminal() {
			done = append(done, id)

			continue
		}

		if execution.ResumeAt != nil && execution.ResumeAt.After(now) {
			if err := r.timers.Schedule(ctx, id, *execution.ResumeAt); err != nil {
				r.logger.WarnContext(ctx, "Failed to reschedule timer", "execution_id", id, "error", err)
			}

			continue
		}

		reason := events.QueueRecovered
		if execution.Suspended() {
			reason = events.QueueResumed
		}

		if err := r.publisher.Publish(ctx, id, events.NewExecutionQueued(execution, reason)); err != nil {
			r.logger.ErrorContext(ctx, "Failed to queue execution", "execution_id", id, "error", err)

			continue
		}

		r.metrics.IncExecutionsRequeued(string(reason))

		done = append(done, id)
		queued++
	}

	if err := r.timers.Remove(ctx, done...); err != nil {
		r.logger.WarnContext(ctx, "Failed to remove fired timers", "error", err)
	}

	if queued > 0 {
		r.logger.DebugContext(ctx, "Queued due executions", "count", queued)
	}

	return queued, nil
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
