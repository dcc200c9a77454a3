package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry encapsulates OpenTelemetry providers and handles their lifecycle.
// It provides a unified interface for initializing and shutting down telemetry.
type Telemetry struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	loggerProvider    log.LoggerProvider
	prometheusHandler http.Handler
}

// Option is a function that configures the telemetry setup
type Option func(*telemetryConfig)

// telemetryConfig holds the configuration for creating telemetry
type telemetryConfig struct {
	config *Config
}

// WithTelemetryConfig sets the telemetry configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(tc *telemetryConfig) {
		tc.config = cfg
	}
}

// New creates and initializes a new Telemetry instance based on the configuration.
// If telemetry is disabled or configuration is nil, returns a Telemetry with no-op providers.
// The caller is responsible for calling Shutdown when the application exits.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	cfg := &telemetryConfig{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.config == nil || !cfg.config.Enabled {
		slog.Debug("Telemetry disabled")
		return newNoOpTelemetry(ctx)
	}

	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	c := cfg.config
	slog.Info("Initializing telemetry",
		"service_name", c.GetServiceName(),
		"service_version", c.GetServiceVersion(),
	)

	t := &Telemetry{}

	tracerProvider, err := NewTracerProvider(ctx,
		WithTracerServiceName(c.GetServiceName()),
		WithTracerServiceVersion(c.GetServiceVersion()),
		WithTracingConfig(c.Tracing),
		WithTracerEndpoint(c.GetEndpoint()),
		WithTracerProtocol(c.GetProtocol()),
		WithTracerInsecure(c.GetInsecure()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	t.tracerProvider = tracerProvider

	meterProvider, err := NewMeterProvider(ctx,
		WithMeterServiceName(c.GetServiceName()),
		WithMeterServiceVersion(c.GetServiceVersion()),
		WithMetricsConfig(c.Metrics),
		WithMeterEndpoint(c.GetEndpoint()),
		WithMeterProtocol(c.GetProtocol()),
		WithMeterInsecure(c.GetInsecure()),
	)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}
	t.meterProvider = meterProvider.MeterProvider
	t.prometheusHandler = meterProvider.PrometheusHandler

	loggerProvider, err := NewLoggerProvider(ctx,
		WithLoggerServiceName(c.GetServiceName()),
		WithLoggerServiceVersion(c.GetServiceVersion()),
		WithLogsConfig(c.Logs),
		WithLoggerEndpoint(c.GetEndpoint()),
		WithLoggerProtocol(c.GetProtocol()),
		WithLoggerInsecure(c.GetInsecure()),
	)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create logger provider: %w", err)
	}
	t.loggerProvider = loggerProvider

	slog.Info("Telemetry initialized successfully")

	return t, nil
}

// newNoOpTelemetry creates a Telemetry instance with no-op providers
func newNoOpTelemetry(ctx context.Context) (*Telemetry, error) {
	tracerProvider, err := NewTracerProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create no-op tracer provider: %w", err)
	}

	meterProvider, err := NewMeterProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create no-op meter provider: %w", err)
	}

	loggerProvider, err := NewLoggerProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create no-op logger provider: %w", err)
	}

	return &Telemetry{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider.MeterProvider,
		loggerProvider: loggerProvider,
	}, nil
}

// TracerProvider returns the configured tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// LoggerProvider returns the configured OTLP logger provider
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	return t.loggerProvider
}

// PrometheusHandler returns the Prometheus scrape handler, or nil if not configured
func (t *Telemetry) PrometheusHandler() http.Handler {
	return t.prometheusHandler
}

// Tracer returns a named tracer from the tracer provider
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a named meter from the meter provider
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return t.meterProvider.Meter(name, opts...)
}

// Shutdown flushes and shuts down all telemetry providers.
// Traces are flushed before metrics and logs so the last request spans reach the collector.
// This method is safe to call multiple times.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down telemetry")

	var errs []error

	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		} else {
			slog.Debug("Tracer provider shutdown complete")
		}
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		} else {
			slog.Debug("Meter provider shutdown complete")
		}
	}

	if lp, ok := t.loggerProvider.(*sdklog.LoggerProvider); ok {
		if err := lp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown logger provider: %w", err))
		} else {
			slog.Debug("Logger provider shutdown complete")
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("Telemetry shutdown complete")
	return nil
}
