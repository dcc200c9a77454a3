package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stacklok/otel-demo-app/internal/counter"
	"github.com/stacklok/otel-demo-app/internal/pool"
)

const (
	msgAcquireFailed   = "Failed to get database connection"
	msgIncrementFailed = "Failed to increment visit counter"
)

// ConnScope runs fn with a pooled backend connection and returns it afterwards.
// *pool.Pool satisfies it.
type ConnScope interface {
	With(ctx context.Context, fn func(context.Context, pool.Conn) error) error
}

// Incrementer bumps the visit counter over an acquired connection.
// *counter.Counter satisfies it.
type Incrementer interface {
	Increment(ctx context.Context, conn pool.Conn) (int64, error)
}

// HelloHandler answers every request with the next visitor number.
// Pool failures map to 503 and backend failures to 500, both with a generic body.
func HelloHandler(conns ConnScope, visits Incrementer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var n int64
		err := conns.With(ctx, func(ctx context.Context, conn pool.Conn) error {
			var err error
			n, err = visits.Increment(ctx, conn)
			return err
		})

		switch {
		case err == nil:
			writeText(w, http.StatusOK, fmt.Sprintf("Hello, World! You are visitor number %d", n))
		case errors.Is(err, pool.ErrAcquireFailed):
			slog.ErrorContext(ctx, msgAcquireFailed, "error", err)
			writeText(w, http.StatusServiceUnavailable, msgAcquireFailed)
		default:
			// the counter already logged the backend detail
			if !errors.Is(err, counter.ErrBackend) {
				slog.ErrorContext(ctx, msgIncrementFailed, "error", err)
			}
			writeText(w, http.StatusInternalServerError, msgIncrementFailed)
		}
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
