package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProviderOption is a function that configures the tracer provider setup
type TracerProviderOption func(*tracerProviderConfig)

// tracerProviderConfig holds the configuration for creating a tracer provider
type tracerProviderConfig struct {
	exporterConfig
	tracingConfig *TracingConfig
}

// WithTracerServiceName sets the service name for the tracer provider
func WithTracerServiceName(name string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.serviceName = name
	}
}

// WithTracerServiceVersion sets the service version for the tracer provider
func WithTracerServiceVersion(version string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithTracingConfig sets the tracing configuration
func WithTracingConfig(tc *TracingConfig) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.tracingConfig = tc
	}
}

// WithTracerEndpoint sets the endpoint for the tracer provider
func WithTracerEndpoint(endpoint string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.endpoint = endpoint
	}
}

// WithTracerProtocol sets the OTLP protocol for the tracer provider
func WithTracerProtocol(protocol string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.protocol = protocol
	}
}

// WithTracerInsecure sets the insecure flag for the tracer provider
func WithTracerInsecure(insecure bool) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.insecure = insecure
	}
}

// NewTracerProvider creates a new OpenTelemetry TracerProvider based on the configuration.
// Returns a no-op provider if tracing is disabled or configuration is nil.
// The caller is responsible for calling Shutdown on the returned provider.
func NewTracerProvider(ctx context.Context, opts ...TracerProviderOption) (trace.TracerProvider, error) {
	cfg := &tracerProviderConfig{exporterConfig: defaultExporterConfig()}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.tracingConfig == nil || !cfg.tracingConfig.Enabled {
		slog.Info("Tracing disabled, using no-op tracer provider")
		return noop.NewTracerProvider(), nil
	}

	res, err := newResource(ctx, cfg.serviceName, cfg.serviceVersion)
	if err != nil {
		return nil, err
	}

	exporter, err := createOTLPTracingExporter(ctx, cfg.exporterConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.tracingConfig.GetSampling()))),
	)

	otel.SetTracerProvider(tp)

	// W3C Trace Context so incoming traceparent headers continue upstream traces
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.insecure {
		slog.Warn("Tracing configured with insecure connection - telemetry data will be transmitted unencrypted. This should only be used in development/testing environments.")
	}

	slog.Info("Tracing initialized",
		"endpoint", cfg.endpoint,
		"protocol", cfg.protocol,
		"sampling_ratio", cfg.tracingConfig.GetSampling(),
		"insecure", cfg.insecure,
	)

	return tp, nil
}

func createOTLPTracingExporter(ctx context.Context, cfg exporterConfig) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch cfg.protocol {
	case ProtocolHTTP:
		var opts []otlptracehttp.Option
		if cfg.isURL() {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.endpoint))
		}
		if cfg.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	case ProtocolGRPC:
		var opts []otlptracegrpc.Option
		if cfg.isURL() {
			opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.endpoint))
		} else {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.endpoint))
		}
		if cfg.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", cfg.protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	return exporter, nil
}
