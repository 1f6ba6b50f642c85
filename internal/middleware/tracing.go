// Package middleware provides HTTP middleware for the access gateway
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/R3E-Network/access_layer/internal/errors"
	internalhttputil "github.com/R3E-Network/access_layer/internal/httputil"
	"github.com/R3E-Network/access_layer/internal/logging"
)

// TracingMiddleware assigns a trace ID to every request, logs it on
// completion and converts handler panics into 500 replies.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{
		logger: logger,
	}
}

// Handler returns the tracing middleware handler
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Trace-ID", traceID)

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.WithContext(ctx).WithFields(map[string]interface{}{
					"panic": rec,
					"stack": string(debug.Stack()),
				}).Error("handler panicked")
				if !rw.written {
					se := errors.Internal("internal error", nil)
					internalhttputil.WriteErrorResponse(rw, r, se.HTTPStatus, string(se.Code), se.Message, nil)
				}
			}
			m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		}()

		next.ServeHTTP(rw, r)
	})
}
