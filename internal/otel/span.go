// Package otel provides OpenTelemetry instrumentation utilities for the demo server.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Database client attribute keys recorded on backend call spans.
// The names follow the OpenTelemetry database semantic conventions and must not
// change without coordinating with the collectors that consume them.
const (
	AttrDBSystem         = attribute.Key("db.system")
	AttrDBOperationName  = attribute.Key("db.operation.name")
	AttrDBCollectionName = attribute.Key("db.collection.name")
	AttrDBStatement      = attribute.Key("db.statement")
)

// DBSystemRedis is the db.system value for Redis backends.
const DBSystemRedis = "redis"

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
// This provides graceful degradation when tracing is disabled.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors.
// The status description stays generic so backend addresses or credentials never
// end up in the span status; the full error is kept on the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
