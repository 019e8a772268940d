package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/roadview/internal/logging"
)

// RequestIDHeader carries the caller's request id, echoed on the response.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware ensures a request_id is present on the context,
// sourcing it from the inbound header if provided, and attaches a per-request
// logger annotated with request_id, method and route.
func requestIDMiddleware(base logging.Logger) mux.MiddlewareFunc {
	if base == nil {
		base = logging.Noop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if incoming := strings.TrimSpace(r.Header.Get(RequestIDHeader)); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if name := cur.GetName(); name != "" {
					route = name
				}
			}
			ctx, reqLog := logging.WithRequestLogger(ctx, base.With(
				logging.String("method", r.Method),
				logging.String("route", route),
			))
			ctx = logging.ContextWithLogger(ctx, reqLog)

			w.Header().Set(RequestIDHeader, logging.RequestIDFromContext(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
