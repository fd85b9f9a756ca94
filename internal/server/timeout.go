package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds a request's context lifetime. Handlers are
// expected to cooperate by watching ctx.Done(); nothing is forcibly
// terminated. Streaming routes skip this middleware entirely, so a
// non-positive timeout is treated as a configuration error and
// disables the bound.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
