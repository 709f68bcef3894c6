package request

import (
	"net/http"
)

// BodyLimit caps request bodies with http.MaxBytesReader. JSON decoding then
// fails with *http.MaxBytesError, which httputil maps to a validation error.
// Mount it before any handler reads the body.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
