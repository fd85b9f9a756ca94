// Package access implements the course access-control gate. The gate
// resolves the course a request targets, loads its policy, and
// authorizes the caller against the required access level. It is
// stateless: the only I/O is the policy store read.
package access

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/coursegate/coursegate/internal/auth"
	"github.com/coursegate/coursegate/internal/course"
	"github.com/coursegate/coursegate/internal/domain"
	"github.com/coursegate/coursegate/internal/server"
)

// maxBodyPeek bounds how much of a request body is buffered while
// looking for a course name.
const maxBodyPeek = 1 << 20

// AuthContext is attached to the request on a successful grant.
type AuthContext struct {
	Course   string
	Identity *domain.Identity
	Policy   *domain.Policy
}

// authContextKey is the context key for AuthContext.
type authContextKey struct{}

// FromContext returns the authorization context attached by the gate.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return ac, ok
}

// Gate authorizes requests against course policies.
type Gate struct {
	store course.Store
}

// NewGate creates a gate backed by the given policy store.
func NewGate(store course.Store) *Gate {
	return &Gate{store: store}
}

// Authorize runs the full authorization sequence for the required
// level and returns the authorization context or a typed rejection.
func (g *Gate) Authorize(r *http.Request, level domain.AccessLevel) (*AuthContext, *domain.GateError) {
	return g.authorize(r, domain.MethodLevels{r.Method: level}, false)
}

// AuthorizeByMethod looks the required level up by the request method,
// defaulting to LevelAny for unmapped methods.
func (g *Gate) AuthorizeByMethod(r *http.Request, levels domain.MethodLevels) (*AuthContext, *domain.GateError) {
	return g.authorize(r, levels, false)
}

// AuthorizePublic is the unauthenticated variant used by read
// endpoints that serve anonymous visitors of public courses. For a
// private course it behaves exactly like Authorize.
func (g *Gate) AuthorizePublic(r *http.Request, level domain.AccessLevel) (*AuthContext, *domain.GateError) {
	return g.authorize(r, domain.MethodLevels{r.Method: level}, true)
}

func (g *Gate) authorize(r *http.Request, levels domain.MethodLevels, public bool) (*AuthContext, *domain.GateError) {
	identity := identityFromRequest(r)

	// The public variant defers the identity check until the policy's
	// visibility is known.
	if !public && !identity.Present() {
		return nil, domain.ErrUnauthenticated()
	}

	name := ResolveCourseName(r)
	if name == "" {
		return nil, domain.ErrMissingTenant()
	}

	policy, err := g.store.Get(r.Context(), name)
	if err != nil {
		if err == course.ErrNotFound {
			return nil, domain.ErrTenantNotFound(name)
		}
		return nil, &domain.GateError{Type: domain.ErrorTypeServer, Message: "policy lookup failed"}
	}

	level, ok := levels[r.Method]
	if !ok {
		level = domain.LevelAny
	}

	if public {
		if !policy.IsPrivate && level == domain.LevelAny {
			return &AuthContext{Course: name, Identity: identity, Policy: policy}, nil
		}
		if !identity.Present() {
			return nil, domain.ErrUnauthenticated()
		}
	}

	if !domain.Evaluate(identity, policy, level) {
		return nil, domain.ErrInsufficientAccess(level, name)
	}

	return &AuthContext{Course: name, Identity: identity, Policy: policy}, nil
}

// Require is middleware enforcing a single access level on every
// method of the wrapped routes.
func (g *Gate) Require(level domain.AccessLevel) func(http.Handler) http.Handler {
	return g.middleware(func(r *http.Request) (*AuthContext, *domain.GateError) {
		return g.Authorize(r, level)
	})
}

// RequireByMethod is middleware with a per-method level map.
func (g *Gate) RequireByMethod(levels domain.MethodLevels) func(http.Handler) http.Handler {
	return g.middleware(func(r *http.Request) (*AuthContext, *domain.GateError) {
		return g.AuthorizeByMethod(r, levels)
	})
}

// PublicByMethod is middleware with a per-method level map whose
// LevelAny methods serve anonymous visitors of public courses.
func (g *Gate) PublicByMethod(levels domain.MethodLevels) func(http.Handler) http.Handler {
	return g.middleware(func(r *http.Request) (*AuthContext, *domain.GateError) {
		return g.authorize(r, levels, true)
	})
}

// Public is middleware for read endpoints that serve anonymous
// visitors of public courses.
func (g *Gate) Public(level domain.AccessLevel) func(http.Handler) http.Handler {
	return g.middleware(func(r *http.Request) (*AuthContext, *domain.GateError) {
		return g.AuthorizePublic(r, level)
	})
}

func (g *Gate) middleware(authorize func(*http.Request) (*AuthContext, *domain.GateError)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, gateErr := authorize(r)
			if gateErr != nil {
				server.AddError(r.Context(), gateErr)
				WriteError(w, gateErr)
				return
			}
			server.AddLogField(r.Context(), "course", ac.Course)
			ctx := context.WithValue(r.Context(), authContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError renders a gate rejection as a JSON {error, message} body.
func WriteError(w http.ResponseWriter, gateErr *domain.GateError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gateErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(gateErr)
}

// ResolveCourseName extracts the course name from a request, checking
// in fixed precedence order: query courseName, query project_name,
// body courseName, body course_name, header x-course-name. The body
// is buffered and restored so handlers can still read it.
func ResolveCourseName(r *http.Request) string {
	q := r.URL.Query()
	if name := q.Get("courseName"); name != "" {
		return name
	}
	if name := q.Get("project_name"); name != "" {
		return name
	}

	if body := peekBody(r); len(body) > 0 {
		var fields struct {
			CourseName      string `json:"courseName"`
			CourseSnakeName string `json:"course_name"`
		}
		if err := json.Unmarshal(body, &fields); err == nil {
			if fields.CourseName != "" {
				return fields.CourseName
			}
			if fields.CourseSnakeName != "" {
				return fields.CourseSnakeName
			}
		}
	}

	return r.Header.Get("x-course-name")
}

// peekBody reads the request body and replaces it with a replayable
// copy. Returns nil when there is no body.
func peekBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	r.Body.Close()
	if err != nil {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

func identityFromRequest(r *http.Request) *domain.Identity {
	if email, ok := auth.EmailFromContext(r.Context()); ok {
		return &domain.Identity{Email: email}
	}
	return &domain.Identity{}
}
