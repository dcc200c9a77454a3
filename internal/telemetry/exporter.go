package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// exporterConfig is the OTLP connection and resource identity shared by all signal providers
type exporterConfig struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	protocol       string
	insecure       bool
}

func defaultExporterConfig() exporterConfig {
	return exporterConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
		protocol:       ProtocolGRPC,
	}
}

// isURL reports whether the endpoint carries a scheme and must be passed as a URL
func (c exporterConfig) isURL() bool {
	return strings.Contains(c.endpoint, "://")
}

// newResource describes this process to the collector.
// resource.New is used instead of resource.Default to avoid schema URL conflicts.
func newResource(ctx context.Context, serviceName, serviceVersion string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
