// Package inmem provides an in-memory implementation of org.Store.
//
// It is intended for tests and local development. Production deployments
// should use the Mongo implementation (org/mongo).
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openplane/warehub/org"
)

// Store is an in-memory implementation of org.Store.
// It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	warehouses map[string]org.Warehouse
}

// New returns an empty Store.
func New() *Store {
	return &Store{warehouses: make(map[string]org.Warehouse)}
}

// Upsert implements org.Store.
func (s *Store) Upsert(_ context.Context, w org.Warehouse) error {
	if w.Org == "" {
		return errors.New("org is required")
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.warehouses[w.Org]; ok {
		w.CreatedAt = existing.CreatedAt
	} else if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	s.warehouses[w.Org] = w
	return nil
}

// Lookup implements org.Store.
func (s *Store) Lookup(_ context.Context, o string) (org.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.warehouses[o]
	if !ok {
		return org.Warehouse{}, org.ErrNotFound
	}
	return w, nil
}

// Delete implements org.Store.
func (s *Store) Delete(_ context.Context, o string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.warehouses, o)
	return nil
}
