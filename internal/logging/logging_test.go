package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (*recordingExporter) Shutdown(context.Context) error   { return nil }
func (*recordingExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingExporter) bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r.Body().AsString())
	}
	return out
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		lines = append(lines, m)
	}
	return lines
}

func TestNewHandler_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewHandler(WithWriter(&buf)))

	logger.Info("HTTP request completed", "status_code", 200, "latency_ms", int64(3))
	logger.Debug("dropped at info level")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "HTTP request completed", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.EqualValues(t, 200, lines[0]["status_code"])
	assert.EqualValues(t, 3, lines[0]["latency_ms"])
	assert.NotContains(t, lines[0], "trace_id")
}

func TestNewHandler_Level(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewHandler(WithWriter(&buf), WithLevel(slog.LevelDebug)))

	logger.Debug("dial attempt")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "debug", lines[0]["level"])
}

func TestNewHandler_TraceAndRequestID(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "GET /")
	defer span.End()
	ctx = ContextWithRequestID(ctx, "req-123")

	var buf bytes.Buffer
	logger := slog.New(NewHandler(WithWriter(&buf))).With("component", "api")
	logger.ErrorContext(ctx, "Failed to increment visit counter")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), lines[0]["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), lines[0]["span_id"])
	assert.Equal(t, "req-123", lines[0]["request_id"])
	assert.Equal(t, "api", lines[0]["component"])
}

func TestNewHandler_LoggerProvider(t *testing.T) {
	t.Parallel()

	exporter := &recordingExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	logger := slog.New(NewHandler(WithWriter(&buf), WithLoggerProvider(lp)))

	logger.Info("listening", "address", "127.0.0.1:3000")
	logger.Debug("not exported")

	assert.Equal(t, []string{"listening"}, exporter.bodies())
	assert.Len(t, decodeLines(t, &buf), 1)

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	assert.Equal(t, otellog.SeverityInfo, exporter.records[0].Severity())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   slog.Level
		wantOK bool
	}{
		{"", slog.LevelInfo, true},
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{" error ", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestRequestIDFromContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Equal(t, "abc", RequestIDFromContext(ContextWithRequestID(context.Background(), "abc")))
}
