package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/otel-demo-app/internal/api"
	"github.com/stacklok/otel-demo-app/internal/config"
	"github.com/stacklok/otel-demo-app/internal/counter"
	"github.com/stacklok/otel-demo-app/internal/pool"
	"github.com/stacklok/otel-demo-app/internal/telemetry"
)

// CounterAppOptions is a function that configures the counter app builder
type CounterAppOptions func(*counterAppConfig) error

// counterAppConfig collects the pieces NewCounterApp wires together.
// Overrides exist primarily for testing.
type counterAppConfig struct {
	config *config.Config

	// Optional component overrides
	dialer      pool.Dialer
	coordinator *ShutdownCoordinator

	// HTTP server options
	address     netip.AddrPort
	middlewares []func(http.Handler) http.Handler

	// Prometheus scrape endpoint, served on its own listener when set
	prometheusAddress string
	prometheusHandler http.Handler

	// Telemetry components
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func baseConfig(opts ...CounterAppOptions) (*counterAppConfig, error) {
	cfg := &counterAppConfig{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if !cfg.address.IsValid() {
		addr, err := cfg.config.ListenAddrPort()
		if err != nil {
			return nil, fmt.Errorf("invalid listen address: %w", err)
		}
		cfg.address = addr
	}

	return cfg, nil
}

// NewCounterApp builds the connection pool, the visit counter and the HTTP server
// described by the configuration.
func NewCounterApp(
	_ context.Context,
	opts ...CounterAppOptions,
) (*CounterApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	conns, err := buildPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection pool: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, conns)
	if err != nil {
		conns.Close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	coordinator := cfg.coordinator
	if coordinator == nil {
		coordinator = NewShutdownCoordinator()
	}

	app := &CounterApp{
		config:      cfg.config,
		address:     cfg.address,
		httpServer:  httpServer,
		pool:        conns,
		coordinator: coordinator,
	}

	if cfg.prometheusHandler != nil && cfg.prometheusAddress != "" {
		app.metricsServer = &http.Server{
			Addr:              cfg.prometheusAddress,
			Handler:           cfg.prometheusHandler,
			ReadHeaderTimeout: cfg.config.Server.ReadHeaderTimeout,
		}
	}

	return app, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress overrides the listen address from the configuration
func WithAddress(addr string) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		idx := strings.LastIndex(addr, ":")
		if idx < 0 || idx == len(addr)-1 {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host, port := addr[:idx], addr[idx+1:]
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		parsed, err := netip.ParseAddrPort(host + ":" + port)
		if err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = parsed
		return nil
	}
}

// WithMiddlewares replaces the default middleware chain
func WithMiddlewares(mw ...func(http.Handler) http.Handler) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithDialer replaces the Redis dialer derived from the configuration
func WithDialer(d pool.Dialer) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		cfg.dialer = d
		return nil
	}
}

// WithShutdownCoordinator replaces the signal-driven coordinator
func WithShutdownCoordinator(c *ShutdownCoordinator) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		cfg.coordinator = c
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for request spans
func WithTracerProvider(tp trace.TracerProvider) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and pool metrics
func WithMeterProvider(mp metric.MeterProvider) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithPrometheusHandler serves h on addr alongside the main listener
func WithPrometheusHandler(addr string, h http.Handler) CounterAppOptions {
	return func(cfg *counterAppConfig) error {
		cfg.prometheusAddress = addr
		cfg.prometheusHandler = h
		return nil
	}
}

// buildPool creates the bounded backend connection pool
func buildPool(b *counterAppConfig) (*pool.Pool, error) {
	dialer := b.dialer
	if dialer == nil {
		var err error
		dialer, err = pool.RedisDialer(b.config.RedisURL)
		if err != nil {
			return nil, err
		}
	}

	opts := []pool.Option{pool.WithDialer(dialer)}
	if b.config.Pool.MaxSize > 0 {
		opts = append(opts, pool.WithMaxSize(b.config.Pool.MaxSize))
	}
	if b.config.Pool.AcquireTimeout > 0 {
		opts = append(opts, pool.WithAcquireTimeout(b.config.Pool.AcquireTimeout))
	}
	if b.meterProvider != nil {
		opts = append(opts, pool.WithMeterProvider(b.meterProvider))
	}

	return pool.New(opts...)
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *counterAppConfig, conns *pool.Pool) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Request ID first so every later layer, including the span, can log it
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			api.RequestID,
			telemetry.TracingMiddleware(b.tracerProvider),
		}
	}

	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			b.middlewares = append(b.middlewares, metricsMiddleware)
			slog.Info("HTTP metrics middleware enabled")
		}
	}

	visits := counter.New(counter.WithTracerProvider(b.tracerProvider))
	router := api.NewServer(conns, visits, api.WithMiddlewares(b.middlewares...))

	server := &http.Server{
		Addr:              b.address.String(),
		Handler:           router,
		ReadHeaderTimeout: b.config.Server.ReadHeaderTimeout,
	}

	slog.Info("HTTP server configured", "address", server.Addr)
	return server, nil
}
