package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/stacklok/otel-demo-app/internal/logging"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an ID, reusing a well-formed incoming
// X-Request-ID and generating a UUID otherwise. The ID is echoed in the
// response and attached to every log record of the request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}
