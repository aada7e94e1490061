package cmd

import (
	"strings"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

// StoreFlags configure persistence, the event bus and the timer store.
func StoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (postgres://..., file://path or a directory)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   EventBusGoChannel,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for wait timers; empty scans the execution store",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "otel-endpoint",
			Usage:   "OTLP/HTTP endpoint; tracing is off when empty",
			Sources: cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
	}
}

// WorkerFlags configure execution processing.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "worker-concurrency",
			Usage:   "Executions advanced in parallel by this process",
			Value:   8,
			Sources: cli.EnvVars("WORKER_CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "resume-interval",
			Usage:   "How often due wait timers and stale executions are re-queued",
			Value:   5 * time.Second,
			Sources: cli.EnvVars("RESUME_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "dispatch-url",
			Usage:   "Delivery gateway for sms, email, call and notification actions; empty logs only",
			Sources: cli.EnvVars("DISPATCH_URL"),
		},
		&cli.StringFlag{
			Name:    "crm-url",
			Usage:   "CRM mutation endpoint; empty logs only",
			Sources: cli.EnvVars("CRM_URL"),
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "Bearer token sent to the delivery gateway and CRM",
			Sources: cli.EnvVars("CRMFLOW_API_TOKEN"),
		},
	}
}

func KafkaBrokers(command *cli.Command) []string {
	var brokers []string

	for _, broker := range strings.Split(command.String("kafka-brokers"), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}

func WorkerConfigFrom(command *cli.Command) WorkerConfig {
	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	return WorkerConfig{
		ID:             workerID,
		Concurrency:    command.Int("worker-concurrency"),
		ResumeInterval: command.Duration("resume-interval"),
		DispatchURL:    command.String("dispatch-url"),
		CRMURL:         command.String("crm-url"),
		APIToken:       command.String("api-token"),
	}
}
