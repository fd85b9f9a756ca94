package server

import (
	"net/http"

	"github.com/coursegate/coursegate/internal/auth"
)

// IdentityMiddleware resolves a bearer session token to an
// authenticated email and attaches it to the request context. It
// never rejects: anonymous and invalid-token requests pass through
// without an identity, and the access gate decides what that means
// per endpoint. If the authenticator is nil, the middleware is a
// no-op.
func IdentityMiddleware(authenticator auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, err := auth.ExtractToken(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			email, err := authenticator.Authenticate(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			AddLogField(r.Context(), "user", email)
			next.ServeHTTP(w, r.WithContext(auth.WithEmail(r.Context(), email)))
		})
	}
}
