package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/otel-demo-app/internal/pool"
)

// blockingConn counts in memory and parks the first IncrBy until released
type blockingConn struct {
	value   *atomic.Int64
	entered chan struct{}
	unblock chan struct{}
	once    *sync.Once
}

func (c *blockingConn) IncrBy(_ context.Context, _ string, delta int64) (int64, error) {
	c.once.Do(func() {
		close(c.entered)
		<-c.unblock
	})
	return c.value.Add(delta), nil
}

func (*blockingConn) Ping(context.Context) error { return nil }
func (*blockingConn) Close() error               { return nil }

type testApp struct {
	app     *CounterApp
	signals chan os.Signal
	entered chan struct{}
	unblock chan struct{}
	errCh   chan error
	baseURL string
}

func startTestApp(t *testing.T, opts ...CounterAppOptions) *testApp {
	t.Helper()

	ta := &testApp{
		signals: make(chan os.Signal, 2),
		entered: make(chan struct{}),
		unblock: make(chan struct{}),
		errCh:   make(chan error, 1),
	}

	var value atomic.Int64
	var once sync.Once
	dialer := func(context.Context) (pool.Conn, error) {
		return &blockingConn{value: &value, entered: ta.entered, unblock: ta.unblock, once: &once}, nil
	}

	cfg := createTestConfig(t)
	base := []CounterAppOptions{
		WithConfig(cfg),
		WithDialer(dialer),
		WithShutdownCoordinator(newShutdownCoordinatorFromChannel(ta.signals)),
	}

	app, err := NewCounterApp(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, app.Listen())
	ta.app = app
	ta.baseURL = "http://" + app.Addr().String()

	go func() { ta.errCh <- app.Run(context.Background()) }()
	return ta
}

func (ta *testApp) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-ta.errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after shutdown")
		return nil
	}
}

func getBody(url string) (int, string, error) {
	resp, err := http.Get(url) //nolint:gosec // test server
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), err
}

type result struct {
	status int
	body   string
	err    error
}

func TestCounterApp_DrainsInFlightRequest(t *testing.T) {
	t.Parallel()

	ta := startTestApp(t)

	inflight := make(chan result, 1)
	go func() {
		status, body, err := getBody(ta.baseURL + "/")
		inflight <- result{status, body, err}
	}()
	<-ta.entered

	ta.signals <- syscall.SIGTERM
	require.Eventually(t, func() bool { return ta.app.State() == StateDraining }, 5*time.Second, 5*time.Millisecond)

	// the listener is closed while draining
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", ta.app.Addr().String(), 100*time.Millisecond)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// a second signal while draining changes nothing
	ta.signals <- syscall.SIGINT

	close(ta.unblock)
	res := <-inflight
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "Hello, World! You are visitor number 1", res.body)

	require.NoError(t, ta.wait(t))
	assert.Equal(t, StateStopped, ta.app.State())
	assert.Equal(t, "received SIGTERM", ta.app.coordinator.Reason())
	require.Eventually(t, func() bool { return ta.app.pool.Stat().Total == 0 }, time.Second, 5*time.Millisecond)
}

func TestCounterApp_ServesUntilStopped(t *testing.T) {
	t.Parallel()

	ta := startTestApp(t)
	close(ta.unblock)

	for i := 1; i <= 3; i++ {
		status, body, err := getBody(ta.baseURL + "/")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "visitor number")
	}

	ta.app.Stop()
	require.NoError(t, ta.wait(t))
	assert.Equal(t, "stop requested", ta.app.coordinator.Reason())

	// stopping twice is harmless
	ta.app.Stop()
	assert.Equal(t, StateStopped, ta.app.State())
}

func TestCounterApp_ContextCancel(t *testing.T) {
	t.Parallel()

	cfg := createTestConfig(t)
	app, err := NewCounterApp(context.Background(),
		WithConfig(cfg),
		WithShutdownCoordinator(newShutdownCoordinatorFromChannel(make(chan os.Signal, 1))),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Addr() != nil }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	assert.Equal(t, StateStopped, app.State())
}

func TestCounterApp_ListenFailure(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	app, err := NewCounterApp(context.Background(),
		WithConfig(createTestConfig(t)),
		WithAddress(busy.Addr().String()),
		WithShutdownCoordinator(newShutdownCoordinatorFromChannel(make(chan os.Signal, 1))),
	)
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestCounterApp_PrometheusServer(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "demo_visits_total 1\n")
	})

	ta := startTestApp(t, WithPrometheusHandler("127.0.0.1:0", metrics))
	close(ta.unblock)

	require.NotNil(t, ta.app.metricsListener)
	status, body, err := getBody("http://" + ta.app.metricsListener.Addr().String() + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "demo_visits_total")

	ta.app.Stop()
	require.NoError(t, ta.wait(t))
}

func TestCounterApp_ShutdownTimeout(t *testing.T) {
	t.Parallel()

	ta := startTestApp(t)
	ta.app.config.Server.ShutdownTimeout = 50 * time.Millisecond

	go func() { _, _, _ = getBody(ta.baseURL + "/") }()
	<-ta.entered

	ta.app.Stop()
	// the pool still waits for the abandoned handler to hand its connection back
	time.AfterFunc(500*time.Millisecond, func() { close(ta.unblock) })

	err := ta.wait(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server forced to shutdown")
}
