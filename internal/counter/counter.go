// Package counter implements the instrumented visit counter increment.
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/otel-demo-app/internal/otel"
	"github.com/stacklok/otel-demo-app/internal/pool"
)

const (
	// TracerName is the name used for the backend tracer
	TracerName = "github.com/stacklok/otel-demo-app/counter"

	// DefaultKey is the key holding the visit counter
	DefaultKey = "visit_counter"

	operationIncrBy = "INCRBY"
)

// ErrBackend is returned when the backend rejected or failed the increment.
// Backend specific details are logged, never returned.
var ErrBackend = errors.New("backend operation failed")

// Counter increments a fixed key through a leased connection
type Counter struct {
	key    string
	tracer trace.Tracer
}

// Option configures the Counter
type Option func(*Counter)

// WithKey sets the counter key
func WithKey(key string) Option {
	return func(c *Counter) {
		c.key = key
	}
}

// WithTracerProvider enables backend call spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Counter) {
		if tp != nil {
			c.tracer = tp.Tracer(TracerName)
		}
	}
}

// New creates a Counter for DefaultKey unless overridden
func New(opts ...Option) *Counter {
	c := &Counter{key: DefaultKey}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the counter key
func (c *Counter) Key() string {
	return c.key
}

// Increment adds one to the counter and returns the new value
func (c *Counter) Increment(ctx context.Context, conn pool.Conn) (int64, error) {
	return Increment(ctx, c.tracer, conn, c.key)
}

// Increment runs INCRBY key 1 on conn inside a client span describing the call.
// The span encloses only the backend round trip.
func Increment(ctx context.Context, tracer trace.Tracer, conn pool.Conn, key string) (int64, error) {
	ctx, span := otel.StartSpan(ctx, tracer, fmt.Sprintf("%s %s", operationIncrBy, key),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			otel.AttrDBSystem.String(otel.DBSystemRedis),
			otel.AttrDBOperationName.String(operationIncrBy),
			otel.AttrDBCollectionName.String(key),
			otel.AttrDBStatement.String(fmt.Sprintf("%s %s 1", operationIncrBy, key)),
		),
	)
	count, err := conn.IncrBy(ctx, key, 1)
	if err != nil {
		otel.RecordError(span, err)
	}
	span.End()

	if err != nil {
		slog.ErrorContext(ctx, "Failed to increment visit counter",
			"operation", operationIncrBy,
			"key", key,
			"error", err,
		)
		return 0, ErrBackend
	}

	return count, nil
}
