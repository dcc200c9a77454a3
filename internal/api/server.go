// Package api provides the HTTP surface of the demo server.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server, outermost first
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates the router serving GET / from the given pool and counter
func NewServer(conns ConnScope, visits Incrementer, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}
	// innermost, so a panicking handler still surfaces as a 500 to the outer middlewares
	r.Use(middleware.Recoverer)

	r.Get("/", HelloHandler(conns, visits))

	return r
}
