package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// HTTPMetricsMeterName is the name used for the HTTP metrics meter
	HTTPMetricsMeterName = "github.com/stacklok/otel-demo-app/http"

	// unknownRoute replaces a missing route pattern to bound label cardinality
	unknownRoute = "unknown_route"
)

// HTTPMetrics holds the OpenTelemetry instruments for HTTP metrics
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates a new HTTPMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(HTTPMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(
		"otel_demo_app_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"otel_demo_app_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"otel_demo_app_http_active_requests",
		metric.WithDescription("Number of currently in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
		activeRequests:  activeRequests,
	}, nil
}

// Middleware returns an HTTP middleware that records metrics for each request.
// If HTTPMetrics is nil, it returns a pass-through middleware.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Captured up front; the request context may be cancelled once ServeHTTP returns
		ctx := r.Context()
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.activeRequests.Add(ctx, 1)
		next.ServeHTTP(ww, r)
		m.activeRequests.Add(ctx, -1)

		route := routePattern(r)
		if route == "" {
			route = unknownRoute
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.String("status_code", strconv.Itoa(status)),
		)

		m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		m.requestsTotal.Add(ctx, 1, attrs)
	})
}

// MetricsMiddleware creates middleware from a MeterProvider for convenience.
// This is a helper function that combines NewHTTPMetrics and Middleware.
func MetricsMiddleware(provider metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	metrics, err := NewHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}

	return metrics.Middleware, nil
}
