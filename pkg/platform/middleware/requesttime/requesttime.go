// Package requesttime pins a single "now" per HTTP request so the audit record,
// article version, and activity stamp written by one request agree.
package requesttime

import (
	"net/http"
	"time"

	"commandbridge/pkg/requestcontext"
)

// Middleware captures the wall clock once at request start.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
