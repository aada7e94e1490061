package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

// Runtime holds the long-lived connections every binary opens.
type Runtime struct {
	Store    persistence.Persistence
	EventBus eventbus.EventBus
	logger   *slog.Logger
}

func OpenRuntime(ctx context.Context, command *cli.Command, serviceName string, logger *slog.Logger) (*Runtime, error) {
	store, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	bus, err := NewEventBus(command.String("event-bus"), KafkaBrokers(command), serviceName, logger)
	if err != nil {
		if closeErr := store.Close(ctx); closeErr != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", closeErr)
		}

		return nil, err
	}

	return &Runtime{Store: store, EventBus: bus, logger: logger}, nil
}

func (r *Runtime) Close(ctx context.Context) {
	if err := r.EventBus.Close(); err != nil {
		r.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := r.Store.Close(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
