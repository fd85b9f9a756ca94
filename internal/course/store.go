// Package course defines the policy store contract consumed by the
// access gate and the admin API.
package course

import (
	"context"
	"errors"

	"github.com/coursegate/coursegate/internal/domain"
)

// ErrNotFound is returned when a course has no policy record.
var ErrNotFound = errors.New("course not found")

// Store is the key-value contract for course policy records. The gate
// only calls Get; Put, Delete, and List serve the admin surface.
// Implementations own any caching; the gate reads fresh per request.
type Store interface {
	Get(ctx context.Context, name string) (*domain.Policy, error)
	Put(ctx context.Context, name string, policy *domain.Policy) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}
