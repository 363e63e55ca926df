package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError records err on the span and marks the span status as error.
// Extra attributes (node id, tenant id) land on the error event, not on
// the span itself, so they stay tied to the failure.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("loom.error", trace.WithAttributes(
		append(attrs, attribute.String("loom.error.message", err.Error()))...,
	))
}
