package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	counterapp "github.com/stacklok/otel-demo-app/internal/app"
	"github.com/stacklok/otel-demo-app/internal/config"
	"github.com/stacklok/otel-demo-app/internal/logging"
	"github.com/stacklok/otel-demo-app/internal/telemetry"
)

const (
	defaultConfigFile = "config.yml"

	// telemetryShutdownTimeout bounds the final flush of spans, metrics and logs
	telemetryShutdownTimeout = 5 * time.Second

	otlpEndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the visit counter server",
		Long: `Start the visit counter server.

The configuration file (--config-file, default config.yml) sets the Redis URL, the
listen address, pool and shutdown limits and the telemetry export settings.
OTEL_EXPORTER_OTLP_ENDPOINT overrides the exporter endpoint from the file.

See the examples/ directory for sample configurations.`,
		RunE: runServe,
	}

	cmd.Flags().StringP("config-file", "f", defaultConfigFile, "Path to configuration file (YAML format)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := newViper()
	if err := v.BindPFlag("config-file", cmd.Flags().Lookup("config-file")); err != nil {
		return fmt.Errorf("failed to bind config-file flag: %w", err)
	}
	if err := v.BindEnv("otlp-endpoint", otlpEndpointEnv); err != nil {
		return fmt.Errorf("failed to bind %s: %w", otlpEndpointEnv, err)
	}

	return serve(cmd.Context(), v.GetString("config-file"), v.GetString("otlp-endpoint"))
}

// serve runs the server until it is told to stop. Extra options are applied after
// the ones derived from the configuration.
func serve(ctx context.Context, configPath, otlpEndpoint string, opts ...counterapp.CounterAppOptions) error {
	cfg, err := loadConfig(configPath, otlpEndpoint)
	if err != nil {
		return err
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"listen_address", cfg.ListenAddress,
		"telemetry_enabled", cfg.Telemetry.Enabled,
	)

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	if exportsLogs(cfg.Telemetry) {
		previous := slog.Default()
		slog.SetDefault(slog.New(logging.NewHandler(
			logging.WithLevel(LogLevel()),
			logging.WithLoggerProvider(tel.LoggerProvider()),
		)))
		defer slog.SetDefault(previous)
	}

	appOpts := []counterapp.CounterAppOptions{
		counterapp.WithConfig(cfg),
		counterapp.WithTracerProvider(tel.TracerProvider()),
		counterapp.WithMeterProvider(tel.MeterProvider()),
	}
	if h := tel.PrometheusHandler(); h != nil {
		appOpts = append(appOpts, counterapp.WithPrometheusHandler(cfg.Telemetry.Metrics.PrometheusAddress, h))
	}

	server, err := counterapp.NewCounterApp(ctx, append(appOpts, opts...)...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return server.Run(ctx)
}

// loadConfig reads the configuration file and applies the endpoint override.
func loadConfig(path, otlpEndpoint string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if otlpEndpoint != "" {
		cfg.Telemetry.Endpoint = otlpEndpoint
	}
	return cfg, nil
}

func exportsLogs(cfg *telemetry.Config) bool {
	return cfg != nil && cfg.Enabled && cfg.Logs != nil && cfg.Logs.Enabled
}
