package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// ShutdownState is the lifecycle stage reported by a ShutdownCoordinator.
type ShutdownState int32

const (
	// StateRunning means no shutdown has been requested yet.
	StateRunning ShutdownState = iota
	// StateShutdownRequested means a signal or Trigger call fired the coordinator.
	StateShutdownRequested
	// StateDraining means the listener is closed and in-flight requests are finishing.
	StateDraining
	// StateStopped means the server has returned and resources are released.
	StateStopped
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShutdownRequested:
		return "shutdown_requested"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ShutdownCoordinator turns process signals into a one-shot shutdown notification.
// Only the first signal or Trigger call has an effect.
type ShutdownCoordinator struct {
	signals []os.Signal
	ch      chan os.Signal
	notify  bool

	once   sync.Once
	done   chan struct{}
	state  atomic.Int32
	mu     sync.Mutex
	reason string
}

// NewShutdownCoordinator creates a coordinator listening for the given signals,
// or SIGINT and SIGTERM when none are passed.
func NewShutdownCoordinator(signals ...os.Signal) *ShutdownCoordinator {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &ShutdownCoordinator{
		signals: signals,
		ch:      make(chan os.Signal, 1),
		notify:  true,
		done:    make(chan struct{}),
	}
}

// newShutdownCoordinatorFromChannel builds a coordinator fed by ch instead of the OS.
func newShutdownCoordinatorFromChannel(ch chan os.Signal) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		ch:   ch,
		done: make(chan struct{}),
	}
}

// Listen blocks until a signal arrives, the coordinator is triggered, or ctx is done.
// Signal delivery stays registered after Listen returns so that repeated signals
// during draining are swallowed instead of killing the process.
func (c *ShutdownCoordinator) Listen(ctx context.Context) error {
	if c.notify {
		signal.Notify(c.ch, c.signals...)
	}

	select {
	case sig := <-c.ch:
		name := signalName(sig)
		if c.Trigger("received " + name) {
			slog.Info("received " + name + ", initiating graceful shutdown")
		}
	case <-c.done:
	case <-ctx.Done():
	}
	return nil
}

// Trigger fires the shutdown notification. It reports whether this call was the one
// that fired it.
func (c *ShutdownCoordinator) Trigger(reason string) bool {
	fired := false
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.state.Store(int32(StateShutdownRequested))
		close(c.done)
		fired = true
	})
	return fired
}

// Done is closed once shutdown has been requested.
func (c *ShutdownCoordinator) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle stage.
func (c *ShutdownCoordinator) State() ShutdownState {
	return ShutdownState(c.state.Load())
}

// Reason returns what fired the coordinator, or "" while running.
func (c *ShutdownCoordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *ShutdownCoordinator) setState(s ShutdownState) {
	c.state.Store(int32(s))
}

// release stops signal delivery; called once the process is done shutting down.
func (c *ShutdownCoordinator) release() {
	if c.notify {
		signal.Stop(c.ch)
	}
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return sig.String()
	}
}
