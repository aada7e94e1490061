// Package main exposes crmflow to agents as an MCP tool server over stdio.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/toolserver"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	command := &cli.Command{
		Name:    "crmflow-mcp",
		Usage:   "Serve crmflow workflow tools over the Model Context Protocol (stdio)",
		Version: version,
		Flags:   cmd.StoreFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule(log.Setup(command.String("log-level"), command.String("log-format")), "mcp")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := cmd.OpenRuntime(ctx, command, "crmflow", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			if command.String("event-bus") == cmd.EventBusGoChannel {
				logger.WarnContext(ctx, "The gochannel bus does not leave this process; run against kafka so workers receive queued executions")
			}

			ingestion, err := services.NewIngestion(runtime.EventBus, clockwork.NewRealClock(), logger)
			if err != nil {
				return err
			}

			server := toolserver.New(toolserver.Deps{
				Workflows:  services.NewWorkflow(runtime.Store, logger),
				Executions: services.NewExecution(runtime.Store, runtime.EventBus, logger),
				Ingestion:  ingestion,
				Logger:     logger,
			}, version)

			logger.InfoContext(ctx, "Serving MCP tools on stdio")

			return server.Serve(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
