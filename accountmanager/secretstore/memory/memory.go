// Package memory is an in-process Store, for tests and the demo command.
package memory

import (
	"context"
	"sync"
)

// Store holds a single blob behind a mutex. It is the default secret
// store used by tests that do not care about the persistence backend.
type Store struct {
	mu   sync.Mutex
	blob string
	set  bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) Read(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob, s.set, nil
}

func (s *Store) Write(ctx context.Context, blob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = blob
	s.set = true
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = ""
	s.set = false
	return nil
}
