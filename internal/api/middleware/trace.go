package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/scry-jobs/internal/api/shared"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
)

// NewTraceMiddleware adds a trace ID to each request context and a request
// logger carrying it, so handlers log with logger.FromContext.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			log := base.With(slog.String("trace_id", shared.GetTraceID(ctx)))

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(logger.WithLogger(ctx, log)))
		})
	}
}
