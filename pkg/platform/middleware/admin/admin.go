package admin

import (
	"log/slog"
	"net/http"

	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/httputil"
	"commandbridge/pkg/requestcontext"
)

// RequireLevel gates a route group to callers at or above the given tier.
// Services re-check their own rules; this only stops obviously unprivileged
// callers before any body is decoded.
func RequireLevel(level int, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller, ok := requestcontext.Caller(ctx)
			if !ok || !caller.AtLeast(level) {
				logger.WarnContext(ctx, "tier check failed",
					"request_id", requestcontext.RequestID(ctx),
					"required_level", level,
					"caller_level", caller.Level,
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient privileges"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
