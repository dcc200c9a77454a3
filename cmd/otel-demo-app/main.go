// Package main is the entry point for the OpenTelemetry demo server.
package main

import (
	"log/slog"
	"os"

	"github.com/stacklok/otel-demo-app/cmd/otel-demo-app/app"
	"github.com/stacklok/otel-demo-app/internal/logging"
)

func main() {
	// JSON logs go to stderr; serve swaps in an OTLP-teed handler once telemetry is up
	slog.SetDefault(slog.New(logging.NewHandler(logging.WithLevel(app.LogLevel()))))

	if err := app.NewRootCmd().Execute(); err != nil {
		slog.Error("unrecoverable error encountered; application is shutting down", "error", err)
		os.Exit(1)
	}
}
