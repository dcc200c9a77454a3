package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMeterProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []MeterProviderOption
		expectNoOp bool
	}{
		{
			name:       "returns no-op provider when no config provided",
			opts:       []MeterProviderOption{},
			expectNoOp: true,
		},
		{
			name: "returns no-op provider when metrics disabled",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: false}),
			},
			expectNoOp: true,
		},
		{
			name: "returns SDK provider when metrics enabled",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true}),
				WithMeterInsecure(true),
			},
		},
		{
			name: "returns SDK provider over HTTP",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true}),
				WithMeterProtocol(ProtocolHTTP),
				WithMeterEndpoint("http://127.0.0.1:4318"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			mp, err := NewMeterProvider(ctx, tt.opts...)
			require.NoError(t, err)
			require.NotNil(t, mp)
			assert.Nil(t, mp.PrometheusHandler)

			if tt.expectNoOp {
				_, ok := mp.MeterProvider.(noop.MeterProvider)
				assert.True(t, ok, "expected no-op meter provider")
				return
			}

			sdkMP, ok := mp.MeterProvider.(*sdkmetric.MeterProvider)
			require.True(t, ok, "expected SDK meter provider")

			// No collector is running, so the final flush may fail
			_ = sdkMP.Shutdown(ctx)
		})
	}
}

func TestNewMeterProvider_Prometheus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mp, err := NewMeterProvider(ctx,
		WithMetricsConfig(&MetricsConfig{Enabled: true, PrometheusAddress: "127.0.0.1:0"}),
		WithMeterInsecure(true),
	)
	require.NoError(t, err)
	require.NotNil(t, mp.PrometheusHandler)
	defer func() { _ = mp.MeterProvider.(*sdkmetric.MeterProvider).Shutdown(ctx) }()

	counter, err := mp.Meter("test").Int64Counter("demo_visits_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rr := httptest.NewRecorder()
	mp.PrometheusHandler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "demo_visits_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMeterProviderOptions(t *testing.T) {
	t.Parallel()

	cfg := &meterProviderConfig{exporterConfig: defaultExporterConfig(), interval: DefaultMetricsInterval}

	metricsCfg := &MetricsConfig{Enabled: true}
	for _, opt := range []MeterProviderOption{
		WithMeterServiceName("my-service"),
		WithMeterServiceVersion("2.0.0"),
		WithMetricsConfig(metricsCfg),
		WithMeterEndpoint("collector.example.com:4318"),
		WithMeterProtocol(ProtocolHTTP),
		WithMeterInsecure(true),
		WithMeterInterval(DefaultMetricsInterval / 2),
	} {
		opt(cfg)
	}

	assert.Equal(t, "my-service", cfg.serviceName)
	assert.Equal(t, "2.0.0", cfg.serviceVersion)
	assert.Equal(t, metricsCfg, cfg.metricsConfig)
	assert.Equal(t, "collector.example.com:4318", cfg.endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.protocol)
	assert.True(t, cfg.insecure)
	assert.Equal(t, DefaultMetricsInterval/2, cfg.interval)
}
