package session

import (
	"context"
	"errors"
	"fmt"

	"goa.design/clue/log"
)

// Manager implements the session lifecycle operations exposed to clients:
// saving (naming) a completed session, attaching feedback, and listing saved
// sessions.
//
// Concurrent Save/AttachFeedback calls on the same session are
// last-writer-wins: each store write is atomic but there is no optimistic
// versioning across reads and writes. The race window is human-scale (manual
// renames and feedback), which is why the design accepts it.
type Manager struct {
	store Store
}

// NewManager builds a Manager on the given store.
func NewManager(store Store) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Manager{store: store}, nil
}

// Save names the session, promoting it from ephemeral to saved. With
// overwrite set, oldSessionID names a previously saved session to replace;
// the old session is deleted best-effort (its absence is not an error) and
// only after every precondition on the target has passed, so a conflicting
// save never destroys the session it meant to replace.
func (m *Manager) Save(ctx context.Context, org, sessionID, name string, overwrite bool, oldSessionID string) error {
	if name == "" {
		return fmt.Errorf("%w: session name is required", ErrInvalidArgument)
	}
	target, err := m.store.Load(ctx, org, sessionID)
	if err != nil {
		return err
	}
	if overwrite && oldSessionID == "" {
		return fmt.Errorf("%w: session to overwrite is required", ErrInvalidArgument)
	}
	if target.Status == StatusRunning {
		return ErrConflict
	}
	if overwrite {
		if err := m.store.Delete(ctx, org, oldSessionID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete old session %s: %w", oldSessionID, err)
		}
		log.Infof(ctx, "replaced saved session %s with %s", oldSessionID, sessionID)
	}
	return m.store.SetName(ctx, org, sessionID, name)
}

// AttachFeedback overwrites the session's feedback. Last write wins; there is
// no feedback history.
func (m *Manager) AttachFeedback(ctx context.Context, org, sessionID, feedback string) error {
	if _, err := m.store.Load(ctx, org, sessionID); err != nil {
		return err
	}
	return m.store.SetFeedback(ctx, org, sessionID, feedback)
}

// SavedPage is one page of saved sessions.
type SavedPage struct {
	Rows   []Session
	Total  int
	Limit  int
	Offset int
}

// ListSaved returns the org's saved sessions, most recently updated first.
// Total reflects the full saved set regardless of the pagination window.
func (m *Manager) ListSaved(ctx context.Context, org string, limit, offset int) (SavedPage, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	rows, total, err := m.store.ListSaved(ctx, org, limit, offset)
	if err != nil {
		return SavedPage{}, err
	}
	return SavedPage{Rows: rows, Total: total, Limit: limit, Offset: offset}, nil
}
