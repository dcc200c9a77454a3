package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/otel-demo-app/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
telemetry:
  enabled: true
  endpoint: http://collector:4317
`)

	tests := []struct {
		name     string
		path     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{name: "endpoint from file", path: path, want: "http://collector:4317"},
		{name: "environment overrides file", path: path, endpoint: "http://override:4318", want: "http://override:4318"},
		{name: "missing file", path: filepath.Join(t.TempDir(), "nope.yml"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := loadConfig(tt.path, tt.endpoint)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, config.ErrInvalidConfig)
				assert.Contains(t, err.Error(), "failed to load configuration")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Telemetry.GetEndpoint())
		})
	}
}

func TestServe_RunsUntilContextDone(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := freeAddress(t)
	path := writeConfig(t, fmt.Sprintf(`
redisUrl: redis://%s
listenAddress: %s
telemetry:
  enabled: false
`, mr.Addr(), addr))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, path, "") }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/") //nolint:gosec // test server
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "Hello, World! You are visitor number 1", body)

	got, err := mr.Get("visit_counter")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after context cancellation")
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "listenAddress: nowhere\n")
	err := serve(context.Background(), path, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["version"])

	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	flag := serveCmd.Flags().ShorthandLookup("f")
	require.NotNil(t, flag)
	assert.Equal(t, "config-file", flag.Name)
	assert.Equal(t, defaultConfigFile, flag.DefValue)
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version", "--format", "json"})
		require.NoError(t, cmd.Execute())

		var info map[string]string
		require.NoError(t, json.Unmarshal(out.Bytes(), &info))
		assert.NotEmpty(t, info["version"])
		assert.NotEmpty(t, info["go_version"])
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "otel-demo-app ")
	})
}

//nolint:paralleltest // t.Setenv
func TestLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		prefixed string
		plain    string
		want     slog.Level
	}{
		{name: "unset", want: slog.LevelInfo},
		{name: "prefixed", prefixed: "debug", want: slog.LevelDebug},
		{name: "plain fallback", plain: "error", want: slog.LevelError},
		{name: "prefixed wins", prefixed: "warn", plain: "debug", want: slog.LevelWarn},
		{name: "invalid", prefixed: "loud", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.EnvPrefix+"_LOG_LEVEL", tt.prefixed)
			t.Setenv("LOG_LEVEL", tt.plain)
			assert.Equal(t, tt.want, LogLevel())
		})
	}
}
