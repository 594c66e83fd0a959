package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the request's trace ID back to the caller.
const CorrelationHeader = "X-Correlation-ID"

// unmatchedRoute labels requests no route pattern accepted, keeping the
// route attribute bounded.
const unmatchedRoute = "unmatched"

// quietRoutes are polled by health checkers and scrapers and log at debug level.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithTracerProvider sets the provider for request spans. Spans started
// while handling the request inherit it. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) MiddlewareOption {
	return func(mw *middleware) { mw.tp = tp }
}

type middleware struct {
	m    *Metrics
	tp   trace.TracerProvider
	prop propagation.TextMapPropagator
	next http.Handler
}

// Middleware instruments a [http.ServeMux] serving the control API. Every
// request gets a server span that continues the caller's W3C trace context,
// the X-Correlation-ID response header, a latency sample labelled by the
// matched route pattern and status, and one log line. Responses of 500 and
// above mark the span failed and log at warn.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		mw := &middleware{m: m, prop: propagation.TraceContext{}, next: next}
		for _, o := range opts {
			o(mw)
		}
		if mw.tp == nil {
			mw.tp = otel.GetTracerProvider()
		}
		return mw
	}
}

// statusWriter remembers the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (mw *middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := mw.tp.Tracer(scope).Start(ctx, r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		))
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set(CorrelationHeader, cid)
	}

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	mw.next.ServeHTTP(sw, r)

	// The mux records the matched pattern on r.
	route := r.Pattern
	if route == "" {
		route = unmatchedRoute
	} else {
		span.SetName(route)
		_, path, _ := strings.Cut(route, " ")
		span.SetAttributes(semconv.HTTPRoute(path))
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))

	elapsed := time.Since(start)
	mw.m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.Int("status", sw.status),
		))

	level := slog.LevelInfo
	switch {
	case sw.status >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, http.StatusText(sw.status))
		level = slog.LevelWarn
	case quietRoutes[route]:
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "request completed",
		slog.String("trace_id", cid),
		slog.String("route", route),
		slog.String("path", r.URL.Path),
		slog.Int("status", sw.status),
		slog.Duration("duration", elapsed),
	)
}
