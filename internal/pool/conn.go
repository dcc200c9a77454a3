package pool

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_conn.go -package=mocks -source=conn.go Conn

// Conn is a live session with the key-value backend.
// A Conn is owned by the Pool and lent to exactly one caller at a time.
type Conn interface {
	// IncrBy atomically increments the integer stored at key by delta and
	// returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	// Ping checks that the session is usable.
	Ping(ctx context.Context) error
	// Close terminates the session.
	Close() error
}

// Dialer opens a new backend session.
type Dialer func(ctx context.Context) (Conn, error)
