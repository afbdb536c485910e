// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments
// should use the Mongo implementation (session/mongo).
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/openplane/warehub/session"
)

// Store is an in-memory implementation of session.Store.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	now      func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		now:      time.Now,
	}
}

// SetClock overrides the store's time source for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func key(org, sessionID string) string { return org + "/" + sessionID }

// Create implements session.Store.
func (s *Store) Create(_ context.Context, sess session.Session) error {
	if sess.SessionID == "" {
		return errors.New("session id is required")
	}
	if sess.Org == "" {
		return errors.New("org is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	s.sessions[key(sess.Org, sess.SessionID)] = cloneSession(sess)
	return nil
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, org, sessionID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key(org, sessionID)]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return cloneSession(sess), nil
}

// SetResult implements session.Store.
func (s *Store) SetResult(_ context.Context, org, sessionID string, status session.Status, response string) error {
	return s.update(org, sessionID, func(sess *session.Session) {
		sess.Status = status
		sess.Response = response
	})
}

// SetName implements session.Store.
func (s *Store) SetName(_ context.Context, org, sessionID, name string) error {
	return s.update(org, sessionID, func(sess *session.Session) {
		sess.Name = &name
	})
}

// SetFeedback implements session.Store.
func (s *Store) SetFeedback(_ context.Context, org, sessionID, feedback string) error {
	return s.update(org, sessionID, func(sess *session.Session) {
		sess.Feedback = &feedback
	})
}

// Delete implements session.Store.
func (s *Store) Delete(_ context.Context, org, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(org, sessionID)
	if _, ok := s.sessions[k]; !ok {
		return session.ErrNotFound
	}
	delete(s.sessions, k)
	return nil
}

// ListSaved implements session.Store.
func (s *Store) ListSaved(_ context.Context, org string, limit, offset int) ([]session.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var saved []session.Session
	for _, sess := range s.sessions {
		if sess.Org == org && sess.Saved() {
			saved = append(saved, cloneSession(sess))
		}
	}
	sort.Slice(saved, func(i, j int) bool {
		return saved[i].UpdatedAt.After(saved[j].UpdatedAt)
	})
	total := len(saved)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return saved[offset:end], total, nil
}

// DeleteUnsavedBefore implements session.Store.
func (s *Store) DeleteUnsavedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int
	for k, sess := range s.sessions {
		if sess.Saved() || sess.Status == session.StatusRunning {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) update(org, sessionID string, apply func(*session.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(org, sessionID)
	sess, ok := s.sessions[k]
	if !ok {
		return session.ErrNotFound
	}
	apply(&sess)
	sess.UpdatedAt = s.now().UTC()
	s.sessions[k] = sess
	return nil
}

func cloneSession(sess session.Session) session.Session {
	out := sess
	if sess.Name != nil {
		name := *sess.Name
		out.Name = &name
	}
	if sess.Feedback != nil {
		fb := *sess.Feedback
		out.Feedback = &fb
	}
	if len(sess.RequestMeta) > 0 {
		meta := make(map[string]any, len(sess.RequestMeta))
		for k, v := range sess.RequestMeta {
			meta[k] = v
		}
		out.RequestMeta = meta
	}
	return out
}
