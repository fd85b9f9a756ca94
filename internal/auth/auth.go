// Package auth implements the upstream authentication collaborator:
// it turns a bearer session token into an authenticated identity. It
// never rejects requests; endpoints that require an identity enforce
// that through the access gate.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// Authenticator resolves session tokens to identities. Implementations
// must be safe for concurrent use.
type Authenticator interface {
	// Authenticate returns the email bound to the token, or an error
	// if the token is unknown.
	Authenticate(token string) (string, error)
}

// TokenAuthenticator validates tokens against a static hash map
// loaded from configuration.
type TokenAuthenticator struct {
	emails map[string]string // sha256(token) hex -> email
}

// SessionToken pairs a token hash with the email it authenticates.
type SessionToken struct {
	TokenHash string
	Email     string
}

// NewTokenAuthenticator creates an authenticator from configured
// session tokens.
func NewTokenAuthenticator(tokens []SessionToken) *TokenAuthenticator {
	a := &TokenAuthenticator{emails: make(map[string]string)}
	for _, t := range tokens {
		a.emails[t.TokenHash] = t.Email
	}
	return a
}

// Authenticate validates a session token and returns the bound email.
func (a *TokenAuthenticator) Authenticate(token string) (string, error) {
	hash := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(hash[:])

	email, ok := a.emails[tokenHash]
	if !ok {
		return "", fmt.Errorf("unknown session token")
	}

	// Constant-time confirmation to prevent timing attacks on the
	// map lookup above.
	for stored := range a.emails {
		if subtle.ConstantTimeCompare([]byte(tokenHash), []byte(stored)) == 1 {
			return email, nil
		}
	}

	return "", fmt.Errorf("unknown session token")
}

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashToken creates the SHA-256 hash of a token for storage in
// configuration.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// identityKey is the context key for the authenticated email.
type identityKey struct{}

// WithEmail attaches an authenticated email to the context.
func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, identityKey{}, email)
}

// EmailFromContext returns the authenticated email, if any.
func EmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(identityKey{}).(string)
	return email, ok && email != ""
}
