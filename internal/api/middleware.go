package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

const (
	// TenantIDHeader is the HTTP header for tenant ID.
	TenantIDHeader = "X-Tenant-ID"

	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader is the HTTP header for trace ID.
	TraceIDHeader = "X-Trace-ID"
)

// tracerName is the instrumentation scope of the API spans.
const tracerName = "fraudsim-api"

// operations names the simulation operation behind each route. Unlisted
// routes are traced under their pattern only.
var operations = map[string]string{
	"POST /score":        "score",
	"POST /tag":          "tag",
	"POST /optimize":     "optimize",
	"POST /audit":        "audit",
	"POST /orders":       "order.ingest",
	"GET /orders/{id}":   "order.get",
	"GET /reports/{id}":  "report.get",
	"GET /evasions/{id}": "evasion.get",
	"GET /rules":         "rules.list",
	"GET /rules/{id}":    "rules.get",
	"POST /rules":        "rules.create",
	"POST /rules/reload": "rules.reload",
	"GET /health":        "health",
	"GET /ready":         "ready",
}

// requestScope carries per-request identifiers down the chain. The tenant is
// filled in place by TenantMiddleware, which runs inside the route group, so
// the outer middlewares see it once the handler returns.
type requestScope struct {
	requestID string
	traceID   string
	tenantID  string
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) *requestScope {
	if s, ok := ctx.Value(scopeKey{}).(*requestScope); ok {
		return s
	}
	return nil
}

// TracingMiddleware opens a span per request and names it after the matched
// route once routing is done. It also assigns the request and trace IDs.
// A nil provider means the global one.
func TracingMiddleware(tp trace.TracerProvider) func(http.Handler) http.Handler {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx, span := tracer.Start(r.Context(), r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("request.id", requestID),
				),
			)
			defer span.End()

			traceID := requestID
			if sc := span.SpanContext(); sc.TraceID().IsValid() {
				traceID = sc.TraceID().String()
			}

			scope := &requestScope{requestID: requestID, traceID: traceID}
			ctx = context.WithValue(ctx, scopeKey{}, scope)

			w.Header().Set(RequestIDHeader, requestID)
			w.Header().Set(TraceIDHeader, traceID)

			rw := wrapWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.status),
				attribute.String("fraudsim.tenant_id", scope.tenantID),
				attribute.String("fraudsim.operation", operations[r.Method+" "+route]),
			)
			if rw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			}
		})
	}
}

// LoggingMiddleware logs one line per request. Client errors log at warn,
// server errors at error, and health checks at debug.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapWriter(w)

		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		switch {
		case rw.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rw.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case r.URL.Path == "/health" || r.URL.Path == "/ready":
			level = slog.LevelDebug
		}

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"operation", operations[r.Method+" "+routePattern(r)],
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if scope := scopeFrom(r.Context()); scope != nil {
			attrs = append(attrs,
				"tenant_id", scope.tenantID,
				"request_id", scope.requestID,
				"trace_id", scope.traceID,
			)
		}
		slog.Log(r.Context(), level, "http request", attrs...)
	})
}

// TenantMiddleware requires a valid X-Tenant-ID. Tenant IDs become bus
// subject tokens and cache key segments, so they are restricted.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantIDHeader)
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "X-Tenant-ID header is required")
			return
		}
		if err := domain.ValidateTenantID(tenantID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx := r.Context()
		scope := scopeFrom(ctx)
		if scope == nil {
			scope = &requestScope{}
			ctx = context.WithValue(ctx, scopeKey{}, scope)
		}
		scope.tenantID = tenantID

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORSMiddleware allows browser clients to call the read and simulation
// routes. The API only serves GET and POST.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+TenantIDHeader+", "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+TraceIDHeader)
		h.Set("Access-Control-Max-Age", "86400")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500 with the usual error body.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("panic recovered",
					"panic", p,
					"path", r.URL.Path,
					"trace_id", GetTraceID(r.Context()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter records the response status.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func wrapWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// routePattern returns the matched chi pattern, or "unmatched" for 404s.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// GetTenantID returns the request's tenant, or "" outside the tenant routes.
func GetTenantID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.tenantID
	}
	return ""
}

// GetTraceID returns the request's trace ID.
func GetTraceID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.traceID
	}
	return ""
}
