// Package inmem provides an in-memory implementation of progress.Store.
//
// It is intended for tests and local development. Production deployments
// should use the Redis implementation (progress/redis) so state survives
// across API and worker processes.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/openplane/warehub/progress"
)

type (
	// Store is an in-memory implementation of progress.Store.
	// It is safe for concurrent use.
	Store struct {
		mu      sync.RWMutex
		logs    map[string][]progress.Entry
		markers map[string]marker
		expiry  map[string]time.Time
		now     func() time.Time
	}

	marker struct {
		value     string
		expiresAt time.Time
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		logs:    make(map[string][]progress.Entry),
		markers: make(map[string]marker),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the store's time source. Tests use it to step through
// TTL expiry without sleeping.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Keys lists the history keys currently stored. Tests use it to assert that
// rejected submissions leave no trace.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.logs))
	for k := range s.logs {
		keys = append(keys, k)
	}
	return keys
}

// Append implements progress.Store.
func (s *Store) Append(_ context.Context, key string, e progress.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpiredLocked(key)
	s.logs[key] = append(s.logs[key], e)
	return nil
}

// Read implements progress.Store. Missing keys yield an empty history.
func (s *Store) Read(_ context.Context, key string) ([]progress.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpiredLocked(key)
	entries := s.logs[key]
	out := make([]progress.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// SetWithTTL implements progress.Store.
func (s *Store) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[key] = marker{value: value, expiresAt: s.expiryAt(ttl)}
	return nil
}

// SetIfAbsent implements progress.Store.
func (s *Store) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.markers[key]; ok && !s.expired(m.expiresAt) {
		return false, nil
	}
	s.markers[key] = marker{value: value, expiresAt: s.expiryAt(ttl)}
	return true, nil
}

// Exists implements progress.Store.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.markers[key]; ok && !s.expired(m.expiresAt) {
		return true, nil
	}
	if _, ok := s.logs[key]; ok && !s.expired(s.expiry[key]) {
		return true, nil
	}
	return false, nil
}

// Expire implements progress.Store.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[key]; ok {
		s.expiry[key] = s.expiryAt(ttl)
		return nil
	}
	if m, ok := s.markers[key]; ok {
		m.expiresAt = s.expiryAt(ttl)
		s.markers[key] = m
	}
	return nil
}

func (s *Store) expiryAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *Store) expired(at time.Time) bool {
	return !at.IsZero() && !s.now().Before(at)
}

func (s *Store) dropExpiredLocked(key string) {
	if at, ok := s.expiry[key]; ok && s.expired(at) {
		delete(s.logs, key)
		delete(s.expiry, key)
	}
}
