// Package app provides application lifecycle management for the counter server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/otel-demo-app/internal/config"
	"github.com/stacklok/otel-demo-app/internal/pool"
)

// CounterApp encapsulates all components needed to run the counter server.
// It provides lifecycle management and graceful shutdown capabilities.
type CounterApp struct {
	config        *config.Config
	address       netip.AddrPort
	httpServer    *http.Server
	metricsServer *http.Server
	pool          *pool.Pool
	coordinator   *ShutdownCoordinator

	mu              sync.Mutex
	listener        net.Listener
	metricsListener net.Listener
}

// Listen binds the configured addresses without serving yet.
// Run calls it when the caller has not.
func (app *CounterApp) Listen() error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return nil
	}

	l, err := net.Listen("tcp", app.address.String())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.address, err)
	}

	if app.metricsServer != nil {
		ml, err := net.Listen("tcp", app.metricsServer.Addr)
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("failed to listen on %s: %w", app.metricsServer.Addr, err)
		}
		app.metricsListener = ml
		slog.Info("Prometheus metrics listening", "address", ml.Addr().String())
	}

	app.listener = l
	slog.Info("listening", "address", l.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (app *CounterApp) Addr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener == nil {
		return nil
	}
	return app.listener.Addr()
}

// Run serves requests until shutdown is requested by a signal, Stop, or ctx,
// then drains in-flight requests and closes the connection pool.
// A requested shutdown returns nil; a serving failure is returned.
func (app *CounterApp) Run(ctx context.Context) error {
	if err := app.Listen(); err != nil {
		app.pool.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serve(app.httpServer, app.listener)
	})
	if app.metricsServer != nil {
		g.Go(func() error {
			return serve(app.metricsServer, app.metricsListener)
		})
	}
	g.Go(func() error {
		return app.coordinator.Listen(gctx)
	})
	g.Go(func() error {
		select {
		case <-app.coordinator.Done():
		case <-gctx.Done():
			app.coordinator.Trigger("context done")
		}
		return app.drain()
	})

	err := g.Wait()

	app.pool.Close()
	app.coordinator.setState(StateStopped)
	app.coordinator.release()
	slog.Info("server shutdown complete")

	return err
}

// Stop requests a graceful shutdown of a running app
func (app *CounterApp) Stop() {
	app.coordinator.Trigger("stop requested")
}

// State returns the shutdown state of the app
func (app *CounterApp) State() ShutdownState {
	return app.coordinator.State()
}

// GetConfig returns the application configuration
func (app *CounterApp) GetConfig() *config.Config {
	return app.config
}

// drain stops accepting connections and waits for in-flight requests,
// bounded only when server.shutdownTimeout is set.
func (app *CounterApp) drain() error {
	app.coordinator.setState(StateDraining)
	slog.Info("graceful shutdown initiated", "reason", app.coordinator.Reason())

	ctx := context.Background()
	if timeout := app.config.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		_ = app.httpServer.Close()
	}
	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server forced to shutdown: %w", err))
			_ = app.metricsServer.Close()
		}
	}

	return errors.Join(errs...)
}

func serve(server *http.Server, l net.Listener) error {
	if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}
