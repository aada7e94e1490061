package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanHelpers(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := otelhelper.StartSpan(context.Background(), tracer, "workflow.action",
		attribute.String(otelhelper.ActionIDKey, "a1"))
	otelhelper.SetActionResult(span, false, "missing required field subject")
	span.End()

	_, span = otelhelper.StartSpan(context.Background(), tracer, "workflow.advance")
	otelhelper.SetError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, "workflow.action", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.Bool(otelhelper.ActionResultKey, false))

	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "boom", ended[1].Status().Description)
	assert.Len(t, ended[1].Events(), 1)
}
