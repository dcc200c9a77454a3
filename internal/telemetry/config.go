// Package telemetry provides OpenTelemetry instrumentation for the demo server.
// It supports configurable tracing, metrics and log export over OTLP.
package telemetry

import (
	"errors"
	"fmt"
	"net"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "opentelemetry-demo-app"

	// DefaultEndpoint is the default OTLP endpoint for telemetry
	DefaultEndpoint = "http://127.0.0.1:4317"

	// DefaultSampling is the default trace sampling rate (every trace)
	DefaultSampling = 1.0

	// ProtocolGRPC exports over OTLP/gRPC
	ProtocolGRPC = "grpc"

	// ProtocolHTTP exports over OTLP/HTTP with protobuf payloads
	ProtocolHTTP = "http"
)

// Config represents the root telemetry configuration
type Config struct {
	// Enabled controls whether telemetry is enabled globally
	// When false, no telemetry providers are initialized
	Enabled bool `yaml:"enabled"`

	// ServiceName is the name of the service for telemetry identification
	// Defaults to "opentelemetry-demo-app" if not specified
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion is the version of the service for telemetry identification
	// Defaults to the application version if not specified
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector endpoint for telemetry
	// Either a URL ("http://127.0.0.1:4317") or "host:port"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Protocol selects the OTLP transport: "grpc" (default) or "http"
	Protocol string `yaml:"protocol,omitempty"`

	// Insecure allows plaintext connections to the collector
	// Should only be true for development/testing environments
	Insecure bool `yaml:"insecure,omitempty"`

	// Tracing contains tracing-specific configuration
	Tracing *TracingConfig `yaml:"tracing,omitempty"`

	// Metrics contains metrics-specific configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`

	// Logs contains log export configuration
	Logs *LogsConfig `yaml:"logs,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	// Enabled controls whether tracing is enabled
	// When false, tracing is disabled even if telemetry is enabled globally
	Enabled bool `yaml:"enabled"`

	// Sampling controls the trace sampling rate (0.0 exclusive to 1.0 inclusive)
	// Defaults to 1.0 if not specified
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	// When false, metrics are disabled even if telemetry is enabled globally
	Enabled bool `yaml:"enabled"`

	// PrometheusAddress, when set, serves a Prometheus scrape endpoint on that address
	// in addition to the OTLP export
	PrometheusAddress string `yaml:"prometheusAddress,omitempty"`
}

// LogsConfig defines log export configuration
type LogsConfig struct {
	// Enabled controls whether structured logs are also exported over OTLP
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when none is provided:
// traces and logs exported to the default endpoint, every trace sampled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Insecure: true,
		Tracing:  &TracingConfig{Enabled: true},
		Logs:     &LogsConfig{Enabled: true},
	}
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetProtocol returns the OTLP protocol, using gRPC if not specified
func (c *Config) GetProtocol() string {
	if c.Protocol == "" {
		return ProtocolGRPC
	}
	return c.Protocol
}

// GetInsecure returns the insecure flag
func (c *Config) GetInsecure() bool {
	return c.Insecure
}

// GetSampling returns the sampling ratio, or DefaultSampling when unset.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil {
		return nil // nil config is valid (telemetry disabled)
	}

	if !c.Enabled {
		return nil // disabled telemetry needs no further validation
	}

	var errs []error

	switch c.GetProtocol() {
	case ProtocolGRPC, ProtocolHTTP:
	default:
		errs = append(errs, fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol))
	}

	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Validate validates the tracing configuration
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	sampling := c.GetSampling()
	if sampling <= 0 || sampling > 1.0 {
		return fmt.Errorf("sampling must be greater than 0.0 and at most 1.0, got %f", sampling)
	}

	return nil
}

// Validate validates the metrics configuration
func (c *MetricsConfig) Validate() error {
	if c == nil || !c.Enabled || c.PrometheusAddress == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(c.PrometheusAddress); err != nil {
		return fmt.Errorf("invalid prometheus address %q: %w", c.PrometheusAddress, err)
	}

	return nil
}
