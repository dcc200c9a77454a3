package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the HTTP tracer
	TracerName = "github.com/stacklok/otel-demo-app/http"
)

// RequestSpan is the root span of one request between BeginSpan and FinishSpan.
type RequestSpan struct {
	span   trace.Span
	start  time.Time
	method string
	path   string
}

// Span returns the underlying span.
func (s *RequestSpan) Span() trace.Span {
	return s.span
}

// ResponseInfo is the response metadata recorded once the handler has returned.
type ResponseInfo struct {
	StatusCode int
	Header     http.Header
	// Route is the matched route pattern, empty when the router has none
	Route string
}

// BeginSpan starts the server span for r as a child of ctx and records every
// request attribute that can be derived from r.
func BeginSpan(ctx context.Context, tracer trace.Tracer, r *http.Request) (context.Context, *RequestSpan) {
	spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(RequestAttributes(r)...),
	)

	return ctx, &RequestSpan{
		span:   span,
		start:  time.Now(),
		method: r.Method,
		path:   r.URL.Path,
	}
}

// FinishSpan records the response attributes, ends the span and logs the completed request.
func FinishSpan(ctx context.Context, s *RequestSpan, info ResponseInfo) {
	latency := time.Since(s.start)

	s.span.SetAttributes(ResponseAttributes(info)...)

	// 4xx are the client's fault and leave the status unset
	switch {
	case info.StatusCode >= http.StatusInternalServerError:
		s.span.SetStatus(codes.Error, http.StatusText(info.StatusCode))
	case info.StatusCode < http.StatusBadRequest:
		s.span.SetStatus(codes.Ok, "")
	}

	s.span.End()

	slog.InfoContext(ctx, "HTTP request completed",
		"method", s.method,
		"path", s.path,
		"status_code", info.StatusCode,
		"latency_ms", latency.Milliseconds(),
	)
}

// RequestAttributes derives the request-phase span attributes.
// Method, path, scheme, transport and protocol version are always present;
// the rest are omitted when they cannot be derived.
func RequestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := requestScheme(r)

	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.URLPath(r.URL.Path),
		semconv.URLScheme(scheme),
		semconv.NetworkTransportTCP,
		semconv.NetworkProtocolVersion(protocolVersion(r.ProtoMajor, r.ProtoMinor)),
	}

	if r.URL.RawQuery != "" {
		attrs = append(attrs, semconv.URLQuery(r.URL.RawQuery))
	}

	if r.Host != "" {
		host, port, ok := splitHost(r.Host, scheme)
		attrs = append(attrs, semconv.ServerAddress(host))
		if ok {
			attrs = append(attrs, semconv.ServerPort(port))
		}
	}

	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(ua))
	}

	if size, ok := parseContentLength(r.Header); ok {
		attrs = append(attrs, semconv.HTTPRequestBodySizeKey.Int64(size))
	}

	return attrs
}

// ResponseAttributes derives the response-phase span attributes.
func ResponseAttributes(info ResponseInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPResponseStatusCode(info.StatusCode),
	}

	if size, ok := parseContentLength(info.Header); ok {
		attrs = append(attrs, semconv.HTTPResponseBodySizeKey.Int64(size))
	}

	if info.Route != "" {
		attrs = append(attrs, semconv.HTTPRouteKey.String(info.Route))
	}

	return attrs
}

// TracingMiddleware creates HTTP middleware for distributed tracing.
// If provider is nil, it returns a pass-through middleware that does nothing.
func TracingMiddleware(provider trace.TracerProvider) func(http.Handler) http.Handler {
	if provider == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	tracer := provider.Tracer(TracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Continue the caller's trace when a W3C traceparent header is present
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, rs := BeginSpan(ctx, tracer, r)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			FinishSpan(ctx, rs, ResponseInfo{
				StatusCode: status,
				Header:     ww.Header(),
				Route:      routePattern(r),
			})
		})
	}
}

func requestScheme(r *http.Request) string {
	if r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// splitHost splits a Host header at its last colon. Without a colon the port
// falls back to the scheme default, and is reported missing for unknown schemes
// or when the port does not parse.
func splitHost(hostHeader, scheme string) (string, int, bool) {
	i := strings.LastIndexByte(hostHeader, ':')
	if i < 0 {
		switch scheme {
		case "https":
			return hostHeader, 443, true
		case "http":
			return hostHeader, 80, true
		default:
			return hostHeader, 0, false
		}
	}

	port, err := strconv.ParseUint(hostHeader[i+1:], 10, 16)
	if err != nil {
		return hostHeader[:i], 0, false
	}
	return hostHeader[:i], int(port), true
}

func protocolVersion(major, minor int) string {
	switch {
	case major == 1 && minor == 0:
		return "1.0"
	case major == 1 && minor == 1:
		return "1.1"
	case major == 2:
		return "2"
	case major == 3:
		return "3"
	default:
		return "unknown"
	}
}

func parseContentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	// 63 bits keeps the value representable as a signed attribute
	n, err := strconv.ParseUint(v, 10, 63)
	if err != nil {
		return 0, false
	}
	return int64(n), true
}

// routePattern returns the matched chi route pattern, or "" when there is none.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
