package pool

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// MeterName is the name used for the pool meter
	MeterName = "github.com/stacklok/otel-demo-app/pool"
)

// poolMetrics holds the OpenTelemetry instruments for the connection pool
type poolMetrics struct {
	acquireDuration metric.Float64Histogram
	registration    metric.Registration
}

// newPoolMetrics registers pool instruments. Returns nil (no-op metrics) if provider is nil.
func newPoolMetrics(provider metric.MeterProvider, p *Pool) (*poolMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)

	acquireDuration, err := meter.Float64Histogram(
		"otel_demo_app_pool_acquire_duration_seconds",
		metric.WithDescription("Time spent waiting for a backend connection"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30),
	)
	if err != nil {
		return nil, err
	}

	acquired, err := meter.Int64ObservableGauge(
		"otel_demo_app_pool_acquired_connections",
		metric.WithDescription("Number of connections currently lent out"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	idle, err := meter.Int64ObservableGauge(
		"otel_demo_app_pool_idle_connections",
		metric.WithDescription("Number of idle connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	maxConns, err := meter.Int64ObservableGauge(
		"otel_demo_app_pool_max_connections",
		metric.WithDescription("Maximum number of connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := p.Stat()
		o.ObserveInt64(acquired, int64(s.Acquired))
		o.ObserveInt64(idle, int64(s.Idle))
		o.ObserveInt64(maxConns, int64(s.Max))
		return nil
	}, acquired, idle, maxConns)
	if err != nil {
		return nil, err
	}

	return &poolMetrics{
		acquireDuration: acquireDuration,
		registration:    registration,
	}, nil
}

func (m *poolMetrics) recordAcquire(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrPoolExhausted):
		outcome = "exhausted"
	default:
		outcome = "error"
	}

	m.acquireDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *poolMetrics) unregister() {
	if m == nil || m.registration == nil {
		return
	}
	_ = m.registration.Unregister()
}
