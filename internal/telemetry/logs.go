package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// LoggerProviderOption is a function that configures the logger provider setup
type LoggerProviderOption func(*loggerProviderConfig)

type loggerProviderConfig struct {
	exporterConfig
	logsConfig *LogsConfig
}

// WithLoggerServiceName sets the service name for the logger provider
func WithLoggerServiceName(name string) LoggerProviderOption {
	return func(cfg *loggerProviderConfig) {
		cfg.serviceName = name
	}
}

// WithLoggerServiceVersion sets the service version for the logger provider
func WithLoggerServiceVersion(version string) LoggerProviderOption {
	return func(cfg *loggerProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithLogsConfig sets the log export configuration
func WithLogsConfig(lc *LogsConfig) LoggerProviderOption {
	return func(cfg *loggerProviderConfig) {
		cfg.logsConfig = lc
	}
}

// WithLoggerEndpoint sets the endpoint for the logger provider
func WithLoggerEndpoint(endpoint string) LoggerProviderOption {
	return func(cfg *loggerProviderConfig) {
		cfg.endpoint = endpoint
	}
}

// WithLoggerProtocol sets the OTLP protocol for the logger provider
func WithLoggerProtocol(protocol string) LoggerProviderOption {
	return func(cfg *loggerProviderConfig) {
		cfg.protocol = protocol
	}
}

// WithLoggerInsecure sets the insecure flag for the logger provider
func WithLoggerInsecure(insecure bool) LoggerProviderOption {
	return func(cfg *loggerProviderConfig) {
		cfg.insecure = insecure
	}
}

// NewLoggerProvider creates an OpenTelemetry LoggerProvider that batches records to the collector.
// Returns a no-op provider if log export is disabled or configuration is nil.
func NewLoggerProvider(ctx context.Context, opts ...LoggerProviderOption) (log.LoggerProvider, error) {
	cfg := &loggerProviderConfig{exporterConfig: defaultExporterConfig()}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logsConfig == nil || !cfg.logsConfig.Enabled {
		slog.Info("Log export disabled, using no-op logger provider")
		return lognoop.NewLoggerProvider(), nil
	}

	res, err := newResource(ctx, cfg.serviceName, cfg.serviceVersion)
	if err != nil {
		return nil, err
	}

	exporter, err := createOTLPLogExporter(ctx, cfg.exporterConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	global.SetLoggerProvider(lp)

	slog.Info("Log export initialized",
		"endpoint", cfg.endpoint,
		"protocol", cfg.protocol,
		"insecure", cfg.insecure,
	)

	return lp, nil
}

func createOTLPLogExporter(ctx context.Context, cfg exporterConfig) (sdklog.Exporter, error) {
	var (
		exporter sdklog.Exporter
		err      error
	)

	switch cfg.protocol {
	case ProtocolHTTP:
		var opts []otlploghttp.Option
		if cfg.isURL() {
			opts = append(opts, otlploghttp.WithEndpointURL(cfg.endpoint))
		} else {
			opts = append(opts, otlploghttp.WithEndpoint(cfg.endpoint))
		}
		if cfg.insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exporter, err = otlploghttp.New(ctx, opts...)
	case ProtocolGRPC:
		var opts []otlploggrpc.Option
		if cfg.isURL() {
			opts = append(opts, otlploggrpc.WithEndpointURL(cfg.endpoint))
		} else {
			opts = append(opts, otlploggrpc.WithEndpoint(cfg.endpoint))
		}
		if cfg.insecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		}
		exporter, err = otlploggrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", cfg.protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	return exporter, nil
}
