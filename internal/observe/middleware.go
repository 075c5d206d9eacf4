package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern matched, keeping the route
// attribute bounded.
const unmatchedRoute = "unmatched"

// responseRecorder tracks status and body size. It forwards Flush and Hijack
// so websocket upgrades and streamed downloads work behind the middleware.
type responseRecorder struct {
	http.ResponseWriter
	status   int
	bytes    int64
	hijacked bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer does not support hijacking")
	}
	r.hijacked = true
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// quietRoutes are logged at debug level; scrapers and probes hit them often.
var quietRoutes = map[string]bool{
	"GET /metrics": true,
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /health":  true,
}

// Middleware traces, measures and logs every request. It continues an
// incoming W3C trace or starts one, echoes the trace ID as X-Correlation-ID,
// and records [Metrics.HTTPRequestDuration] labelled with the matched mux
// pattern rather than the raw path.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid == "" {
				// Not sampled or no SDK installed.
				cid = uuid.NewString()
			}
			w.Header().Set("X-Correlation-ID", cid)
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			// The mux fills r.Pattern on this request value.
			r = r.WithContext(ctx)
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			} else {
				span.SetName("HTTP " + route)
				span.SetAttributes(semconv.HTTPRoute(route))
			}
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					Attr("method", r.Method),
					Attr("route", route),
					Attr("status", strconv.Itoa(rec.status)),
				),
			)

			level := slog.LevelInfo
			if quietRoutes[route] {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", duration),
				slog.Bool("upgraded", rec.hijacked),
			)
		})
	}
}
