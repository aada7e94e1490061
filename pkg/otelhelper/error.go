package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and records err as an event.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetActionResult annotates an action span with its outcome.
func SetActionResult(span trace.Span, success bool, message string) {
	span.SetAttributes(attribute.Bool(ActionResultKey, success))

	if !success {
		span.SetStatus(codes.Error, message)

		return
	}

	span.SetStatus(codes.Ok, "")
}
