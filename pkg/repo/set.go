package repo

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Set is a fixed collection of repositories addressed by name.
type Set struct {
	repos map[string]*Repository
	order []string
}

// NewSet groups repositories, keeping their order. Names must be unique.
func NewSet(repos ...*Repository) (*Set, error) {
	s := &Set{repos: make(map[string]*Repository, len(repos))}
	for _, r := range repos {
		if _, dup := s.repos[r.Name()]; dup {
			return nil, fmt.Errorf("duplicate repository %q", r.Name())
		}
		s.repos[r.Name()] = r
		s.order = append(s.order, r.Name())
	}
	return s, nil
}

// Get returns the repository with the given name.
func (s *Set) Get(name string) (*Repository, bool) {
	r, ok := s.repos[name]
	return r, ok
}

// Names returns repository names in configuration order.
func (s *Set) Names() []string {
	return slices.Clone(s.order)
}

// Repositories returns the repositories in configuration order.
func (s *Set) Repositories() []*Repository {
	out := make([]*Repository, len(s.order))
	for i, name := range s.order {
		out[i] = s.repos[name]
	}
	return out
}

// Find searches the repositories in order, like pacman does, and returns
// the first match.
func (s *Set) Find(key string) (*Repository, *Package, bool) {
	for _, name := range s.order {
		r := s.repos[name]
		if p, ok := r.Find(key); ok {
			return r, p, true
		}
	}
	return nil, nil, false
}

// ReloadAll reloads every repository and joins their errors. A failed
// repository keeps its previous index.
func (s *Set) ReloadAll(ctx context.Context) error {
	var errs []error
	for _, name := range s.order {
		if err := s.repos[name].Reload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
