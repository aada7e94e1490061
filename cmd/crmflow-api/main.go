package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "with-worker",
			Usage:   "Process executions inside the API process (always on for the gochannel bus)",
			Sources: cli.EnvVars("WITH_WORKER"),
		},
	}
	flags = append(flags, cmd.StoreFlags()...)
	flags = append(flags, cmd.WorkerFlags()...)

	command := &cli.Command{
		Name:                  "crmflow-api",
		Usage:                 "Create, run and inspect CRM workflows",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			base := log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule(base, "api")

			logger.InfoContext(ctx, "Initializing crmflow API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := cmd.OpenRuntime(ctx, command, "crmflow", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			if command.Bool("with-worker") || command.String("event-bus") == cmd.EventBusGoChannel {
				stopWorker, err := startEmbeddedWorker(ctx, command, runtime, base)
				if err != nil {
					return err
				}
				defer stopWorker()
			}

			return NewAPI(logger, runtime.Store, runtime.EventBus).Start(ctx, command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func startEmbeddedWorker(ctx context.Context, command *cli.Command, runtime *cmd.Runtime, logger *slog.Logger) (func(), error) {
	logger = log.WithModule(logger, "embedded_worker")

	timerStore, err := cmd.NewTimerStore(ctx, command.String("redis-url"), runtime.Store)
	if err != nil {
		return nil, err
	}

	tracer, shutdownTracer := cmd.InitTracer(ctx, "crmflow-api", command.String("otel-endpoint"), logger)

	stopWorker, err := cmd.StartWorker(ctx, cmd.WorkerConfigFrom(command), cmd.WorkerDeps{
		Store:    runtime.Store,
		EventBus: runtime.EventBus,
		Timers:   timerStore,
		Metrics:  metrics.NewProm("crmflow", prometheus.DefaultRegisterer),
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		_ = timerStore.Close()

		return nil, err
	}

	return func() {
		stopWorker()

		if err := timerStore.Close(); err != nil {
			logger.Error("Failed to close timer store", "error", err)
		}

		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("Failed to shut down tracer", "error", err)
		}
	}, nil
}
