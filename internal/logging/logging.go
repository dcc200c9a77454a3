// Package logging builds the process-wide slog handler: JSON lines on stderr through zap,
// optionally teed to an OpenTelemetry logger provider, with trace correlation fields.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// DefaultName is the instrumentation scope of records exported over OTLP
const DefaultName = "github.com/stacklok/otel-demo-app"

// Option configures NewHandler
type Option func(*options)

type options struct {
	level          slog.Level
	writer         io.Writer
	loggerProvider log.LoggerProvider
	name           string
}

// WithLevel sets the minimum level for every sink
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithWriter sets the destination of the JSON output (stderr by default)
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithLoggerProvider additionally exports every record through provider
func WithLoggerProvider(provider log.LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

// WithName sets the instrumentation scope name used for exported records
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// NewHandler creates the slog handler used by the application.
func NewHandler(opts ...Option) slog.Handler {
	o := &options{
		level:  slog.LevelInfo,
		writer: os.Stderr,
		name:   DefaultName,
	}
	for _, opt := range opts {
		opt(o)
	}

	level := zapLevel(o.level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(o.writer)), level),
	}

	if o.loggerProvider != nil {
		otelCore := otelzap.NewCore(o.name, otelzap.WithLoggerProvider(o.loggerProvider))
		cores = append(cores, &levelEnforcer{Core: otelCore, level: level})
	}

	core := zapcore.NewTee(cores...)

	return &traceHandler{Handler: zapslog.NewHandler(core)}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
// ok is false for unrecognised names, in which case info is returned.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level < slog.LevelInfo:
		return zapcore.DebugLevel
	case level < slog.LevelWarn:
		return zapcore.InfoLevel
	case level < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// levelEnforcer applies the configured level to a core that has no level of its own
type levelEnforcer struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (l *levelEnforcer) Enabled(lvl zapcore.Level) bool {
	return l.level.Enabled(lvl)
}

func (l *levelEnforcer) With(fields []zapcore.Field) zapcore.Core {
	return &levelEnforcer{
		Core:  l.Core.With(fields),
		level: l.level,
	}
}

func (l *levelEnforcer) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if l.Enabled(ent.Level) {
		return ce.AddCore(ent, l)
	}
	return ce
}
