// Package pool provides a bounded pool of backend connections with scoped
// acquisition and lazy validation.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/puddle/v2"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultMaxSize is the default maximum number of connections in the pool
	DefaultMaxSize int32 = 10

	// DefaultAcquireTimeout is the default time a caller waits for a free connection
	DefaultAcquireTimeout = 30 * time.Second

	// DefaultDialAttempts is the default number of attempts made to open a connection
	DefaultDialAttempts uint = 3
)

var (
	// ErrPoolExhausted is returned when no connection became available before the acquire timeout
	ErrPoolExhausted = errors.New("no connection available before acquire timeout")

	// ErrPoolClosed is returned when acquiring from a closed pool
	ErrPoolClosed = errors.New("pool is closed")

	// ErrAcquireFailed wraps every error returned by With when no connection could be obtained
	ErrAcquireFailed = errors.New("failed to acquire connection")
)

// Option configures the pool
type Option func(*poolConfig) error

// poolConfig holds the pool configuration
type poolConfig struct {
	maxSize        int32
	acquireTimeout time.Duration
	dialAttempts   uint
	dialer         Dialer
	meterProvider  metric.MeterProvider
}

// WithMaxSize sets the maximum number of connections
func WithMaxSize(size int32) Option {
	return func(cfg *poolConfig) error {
		if size < 1 {
			return fmt.Errorf("max size must be at least 1, got %d", size)
		}
		cfg.maxSize = size
		return nil
	}
}

// WithAcquireTimeout sets how long Acquire waits for a free connection.
// A zero timeout waits until the caller's context is done.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(cfg *poolConfig) error {
		if timeout < 0 {
			return fmt.Errorf("acquire timeout cannot be negative: %s", timeout)
		}
		cfg.acquireTimeout = timeout
		return nil
	}
}

// WithDialAttempts sets how many times opening a connection is attempted before giving up
func WithDialAttempts(attempts uint) Option {
	return func(cfg *poolConfig) error {
		if attempts == 0 {
			return fmt.Errorf("dial attempts must be at least 1")
		}
		cfg.dialAttempts = attempts
		return nil
	}
}

// WithDialer sets the function used to open new connections
func WithDialer(dialer Dialer) Option {
	return func(cfg *poolConfig) error {
		if dialer == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		cfg.dialer = dialer
		return nil
	}
}

// WithMeterProvider enables pool metrics
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *poolConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// Pool is a bounded set of reusable backend connections.
// It is safe for concurrent use.
type Pool struct {
	resources      *puddle.Pool[Conn]
	acquireTimeout time.Duration
	metrics        *poolMetrics
}

// Stats is a point-in-time snapshot of the pool bookkeeping
type Stats struct {
	Total                int32
	Idle                 int32
	Acquired             int32
	Max                  int32
	AcquireCount         int64
	CanceledAcquireCount int64
}

// New creates a pool. Connections are opened lazily on first acquisition.
func New(opts ...Option) (*Pool, error) {
	cfg := &poolConfig{
		maxSize:        DefaultMaxSize,
		acquireTimeout: DefaultAcquireTimeout,
		dialAttempts:   DefaultDialAttempts,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}

	resources, err := puddle.NewPool(&puddle.Config[Conn]{
		Constructor: cfg.construct,
		Destructor:  destroyConn,
		MaxSize:     cfg.maxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resource pool: %w", err)
	}

	p := &Pool{
		resources:      resources,
		acquireTimeout: cfg.acquireTimeout,
	}

	p.metrics, err = newPoolMetrics(cfg.meterProvider, p)
	if err != nil {
		resources.Close()
		return nil, fmt.Errorf("failed to create pool metrics: %w", err)
	}

	return p, nil
}

// construct opens a connection, retrying transient dial failures with exponential backoff
func (cfg *poolConfig) construct(ctx context.Context) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	return backoff.Retry(ctx,
		func() (Conn, error) {
			return cfg.dialer(ctx)
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.dialAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Backend dial failed, retrying", "error", err, "retry_in", next)
		}),
	)
}

func destroyConn(conn Conn) {
	if err := conn.Close(); err != nil {
		slog.Debug("Failed to close backend connection", "error", err)
	}
}

// Acquire blocks until a connection is free or the acquire timeout elapses.
// Every successful Acquire must be paired with exactly one Release or Discard on the returned lease;
// prefer With, which does this on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	start := time.Now()

	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	res, err := p.resources.Acquire(acquireCtx)
	if err != nil {
		switch {
		case errors.Is(err, puddle.ErrClosedPool):
			err = ErrPoolClosed
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			err = ErrPoolExhausted
		}
		p.metrics.recordAcquire(ctx, time.Since(start), err)
		return nil, err
	}

	p.metrics.recordAcquire(ctx, time.Since(start), nil)
	return &Lease{res: res}, nil
}

// With acquires a connection, runs fn with it and gives the connection back.
// The connection is returned to the pool only when fn succeeds; when fn fails or
// panics the connection is destroyed so a broken session is never handed out again.
// Acquisition failures are wrapped with ErrAcquireFailed.
func (p *Pool) With(ctx context.Context, fn func(context.Context, Conn) error) (err error) {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAcquireFailed, err)
	}

	defer func() {
		if r := recover(); r != nil {
			lease.Discard()
			panic(r)
		}
		if err != nil {
			lease.Discard()
			return
		}
		lease.Release()
	}()

	return fn(ctx, lease.Conn())
}

// Stat returns a snapshot of the pool bookkeeping
func (p *Pool) Stat() Stats {
	s := p.resources.Stat()
	return Stats{
		Total:                s.TotalResources(),
		Idle:                 s.IdleResources(),
		Acquired:             s.AcquiredResources(),
		Max:                  s.MaxResources(),
		AcquireCount:         s.AcquireCount(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
	}
}

// Close waits for all lent connections to come back and closes every connection.
func (p *Pool) Close() {
	p.metrics.unregister()
	p.resources.Close()
}

// Lease is a connection lent by the pool.
type Lease struct {
	res  *puddle.Resource[Conn]
	done atomic.Bool
}

// Conn returns the leased connection. Using a lease after it was given back is a programming error.
func (l *Lease) Conn() Conn {
	if l.done.Load() {
		panic("pool: connection used after release")
	}
	return l.res.Value()
}

// Release returns the connection to the idle list.
func (l *Lease) Release() {
	if !l.done.CompareAndSwap(false, true) {
		panic("pool: connection released twice")
	}
	l.res.Release()
}

// Discard closes the connection and frees its slot for a replacement.
func (l *Lease) Discard() {
	if !l.done.CompareAndSwap(false, true) {
		panic("pool: connection released twice")
	}
	l.res.Destroy()
}
