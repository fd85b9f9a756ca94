package domain

import (
	"fmt"
	"net/http"
)

// ErrorType categorizes a gate rejection.
type ErrorType string

const (
	// ErrorTypeUnauthenticated indicates no identity was attached to
	// the request.
	ErrorTypeUnauthenticated ErrorType = "unauthenticated"

	// ErrorTypeMissingTenant indicates no course name could be
	// resolved from the request.
	ErrorTypeMissingTenant ErrorType = "missing_course"

	// ErrorTypeTenantNotFound indicates the course has no policy
	// record.
	ErrorTypeTenantNotFound ErrorType = "course_not_found"

	// ErrorTypeInsufficientAccess indicates the policy exists but the
	// access predicate failed.
	ErrorTypeInsufficientAccess ErrorType = "insufficient_access"

	// ErrorTypeInvalidRequest indicates a malformed request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeServer indicates an internal failure.
	ErrorTypeServer ErrorType = "server"
)

// GateError is a synchronous rejection returned before any streaming
// begins. It renders as a JSON {error, message} body.
type GateError struct {
	Type    ErrorType `json:"error"`
	Message string    `json:"message,omitempty"`

	// StatusCode is the HTTP status to respond with.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the status for this rejection.
func (e *GateError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeUnauthenticated:
		return http.StatusUnauthorized
	case ErrorTypeMissingTenant, ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeTenantNotFound:
		return http.StatusNotFound
	case ErrorTypeInsufficientAccess:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ErrUnauthenticated creates a 401 rejection.
func ErrUnauthenticated() *GateError {
	return &GateError{
		Type:    ErrorTypeUnauthenticated,
		Message: "authentication required",
	}
}

// ErrMissingTenant creates a 400 rejection.
func ErrMissingTenant() *GateError {
	return &GateError{
		Type:    ErrorTypeMissingTenant,
		Message: "no course name found in request",
	}
}

// ErrTenantNotFound creates a 404 rejection for the named course.
func ErrTenantNotFound(course string) *GateError {
	return &GateError{
		Type:    ErrorTypeTenantNotFound,
		Message: fmt.Sprintf("course %q not found", course),
	}
}

// ErrInsufficientAccess creates a 403 rejection naming the required
// level and course.
func ErrInsufficientAccess(level AccessLevel, course string) *GateError {
	return &GateError{
		Type:    ErrorTypeInsufficientAccess,
		Message: fmt.Sprintf("%s access required for course %q", level, course),
	}
}
