// Package app provides the command line interface of the demo server.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/otel-demo-app/internal/config"
	"github.com/stacklok/otel-demo-app/internal/logging"
	"github.com/stacklok/otel-demo-app/internal/versions"
)

// NewRootCmd creates the root command with the serve and version subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "otel-demo-app",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Short:             "OpenTelemetry instrumented visit counter",
		Long: `otel-demo-app serves a visit counter backed by Redis and reports traces, metrics
and logs to an OpenTelemetry collector.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// LogLevel reads OTEL_DEMO_LOG_LEVEL, falling back to LOG_LEVEL.
// Unset or invalid values mean info.
func LogLevel() slog.Level {
	v := newViper()

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := logging.ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to read format flag: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			_, err = fmt.Fprintf(out, "otel-demo-app %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
