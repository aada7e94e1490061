package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer exports spans over OTLP/HTTP when an endpoint is configured and
// falls back to the global no-op tracer otherwise.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func InitTracer(ctx context.Context, serviceName, endpoint string, logger *slog.Logger) (trace.Tracer, otelhelper.Shutdown) {
	noop := func(context.Context) error { return nil }

	if endpoint == "" {
		return otel.Tracer(serviceName), noop
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		return otel.Tracer(serviceName), noop
	}

	return tracer, shutdown
}
