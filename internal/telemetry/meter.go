package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	// DefaultMetricsInterval is the default interval for metric collection
	DefaultMetricsInterval = 60 * time.Second
)

// MeterProviderOption is a function that configures the meter provider setup
type MeterProviderOption func(*meterProviderConfig)

// meterProviderConfig holds the configuration for creating a meter provider
type meterProviderConfig struct {
	exporterConfig
	metricsConfig *MetricsConfig
	interval      time.Duration
}

// WithMeterServiceName sets the service name for the meter provider
func WithMeterServiceName(name string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceName = name
	}
}

// WithMeterServiceVersion sets the service version for the meter provider
func WithMeterServiceVersion(version string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithMetricsConfig sets the metrics configuration
func WithMetricsConfig(mc *MetricsConfig) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.metricsConfig = mc
	}
}

// WithMeterEndpoint sets the endpoint for the meter provider
func WithMeterEndpoint(endpoint string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.endpoint = endpoint
	}
}

// WithMeterProtocol sets the OTLP protocol for the meter provider
func WithMeterProtocol(protocol string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.protocol = protocol
	}
}

// WithMeterInsecure sets the insecure flag for the meter provider
func WithMeterInsecure(insecure bool) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.insecure = insecure
	}
}

// WithMeterInterval overrides the periodic export interval
func WithMeterInterval(interval time.Duration) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.interval = interval
	}
}

// MeterProvider is the result of NewMeterProvider: the provider itself plus,
// when a Prometheus address is configured, the scrape handler backed by it.
type MeterProvider struct {
	metric.MeterProvider

	// PrometheusHandler serves the Prometheus exposition format.
	// Nil unless a Prometheus address is configured.
	PrometheusHandler http.Handler
}

// NewMeterProvider creates a new OpenTelemetry MeterProvider based on the configuration.
// Returns a no-op provider if metrics are disabled or configuration is nil.
// The caller is responsible for calling Shutdown on the returned provider.
func NewMeterProvider(ctx context.Context, opts ...MeterProviderOption) (*MeterProvider, error) {
	cfg := &meterProviderConfig{
		exporterConfig: defaultExporterConfig(),
		interval:       DefaultMetricsInterval,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.metricsConfig == nil || !cfg.metricsConfig.Enabled {
		slog.Info("Metrics disabled, using no-op meter provider")
		return &MeterProvider{MeterProvider: noop.NewMeterProvider()}, nil
	}

	res, err := newResource(ctx, cfg.serviceName, cfg.serviceVersion)
	if err != nil {
		return nil, err
	}

	exporter, err := createOTLPMetricsExporter(ctx, cfg.exporterConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(cfg.interval),
			),
		),
	}

	var promHandler http.Handler
	if cfg.metricsConfig.PrometheusAddress != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		reader, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(reader))
		promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	mp := sdkmetric.NewMeterProvider(providerOpts...)

	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized",
		"endpoint", cfg.endpoint,
		"protocol", cfg.protocol,
		"insecure", cfg.insecure,
		"prometheus_address", cfg.metricsConfig.PrometheusAddress,
	)

	return &MeterProvider{MeterProvider: mp, PrometheusHandler: promHandler}, nil
}

func createOTLPMetricsExporter(ctx context.Context, cfg exporterConfig) (sdkmetric.Exporter, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)

	switch cfg.protocol {
	case ProtocolHTTP:
		var opts []otlpmetrichttp.Option
		if cfg.isURL() {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(cfg.endpoint))
		} else {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.endpoint))
		}
		if cfg.insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	case ProtocolGRPC:
		var opts []otlpmetricgrpc.Option
		if cfg.isURL() {
			opts = append(opts, otlpmetricgrpc.WithEndpointURL(cfg.endpoint))
		} else {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.endpoint))
		}
		if cfg.insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", cfg.protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	return exporter, nil
}
