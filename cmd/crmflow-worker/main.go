// Package main runs crmflow workers: trigger fan-out, execution processing
// and wait-timer resumption.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9092

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port serving /metrics and health probes; 0 disables it",
			Value:   defaultMetricsPort,
			Sources: cli.EnvVars("METRICS_PORT"),
		},
	}
	flags = append(flags, cmd.StoreFlags()...)
	flags = append(flags, cmd.WorkerFlags()...)

	command := &cli.Command{
		Name:                  "crmflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Match trigger events and run workflow executions",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			config := cmd.WorkerConfigFrom(command)

			logger := log.Setup(command.String("log-level"), command.String("log-format")).
				With("worker_id", config.ID)

			if command.String("event-bus") == cmd.EventBusGoChannel {
				logger.WarnContext(ctx, "The gochannel bus only reaches this process; events published by a separate API are not received")
			}

			logger.InfoContext(ctx, "Initializing crmflow worker")

			runtime, err := cmd.OpenRuntime(ctx, command, "crmflow", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			timerStore, err := cmd.NewTimerStore(ctx, command.String("redis-url"), runtime.Store)
			if err != nil {
				return err
			}

			defer func() {
				if err := timerStore.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close timer store", "error", err)
				}
			}()

			tracer, shutdownTracer := cmd.InitTracer(ctx, "crmflow-worker", command.String("otel-endpoint"), logger)
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
				}
			}()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			stopWorker, err := cmd.StartWorker(ctx, config, cmd.WorkerDeps{
				Store:    runtime.Store,
				EventBus: runtime.EventBus,
				Timers:   timerStore,
				Metrics:  metrics.NewProm("crmflow", prometheus.DefaultRegisterer),
				Tracer:   tracer,
				Logger:   logger,
			})
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			probes := probeApp(runtime)
			if port := command.Int("metrics-port"); port > 0 {
				go func() {
					err := probes.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
					if err != nil {
						logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
					}
				}()
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigChan
			logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig)

			cancel()
			stopWorker()

			return probes.Shutdown()
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func probeApp(runtime *cmd.Runtime) *fiber.App {
	app := fiber.New()

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return runtime.Store.HealthCheck(c.Context()) == nil
		},
	}))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return app
}
