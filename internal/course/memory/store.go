// Package memory provides an in-memory course policy store for tests
// and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/coursegate/coursegate/internal/course"
	"github.com/coursegate/coursegate/internal/domain"
)

// Store is a map-backed course.Store.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*domain.Policy
}

var _ course.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{policies: make(map[string]*domain.Policy)}
}

func (s *Store) Get(_ context.Context, name string) (*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[name]
	if !ok {
		return nil, course.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *Store) Put(_ context.Context, name string, policy *domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *policy
	s.policies[name] = &clone
	return nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[name]; !ok {
		return course.ErrNotFound
	}
	delete(s.policies, name)
	return nil
}

func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
