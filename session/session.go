// Package session models LLM summarization sessions and their lifecycle. A
// session starts RUNNING when a worker picks up the task, terminates COMPLETE
// or ERROR, and stays ephemeral (unnamed, subject to garbage collection)
// until a caller saves it under a name. Saved sessions are listable and kept
// indefinitely.
package session

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusRunning marks a session whose work is still executing.
	StatusRunning Status = "running"
	// StatusComplete marks a session with a usable response.
	StatusComplete Status = "completed"
	// StatusError marks a session whose work failed; Response carries the
	// diagnostic.
	StatusError Status = "error"
)

// Type classifies the assistant interaction behind a session.
type Type string

// TypeSummarization is the warehouse result-set summarization assistant.
const TypeSummarization Type = "long_text_summarization"

// Session is one persisted LLM interaction. Name is nil while the session is
// unsaved; setting it promotes the session to saved.
type Session struct {
	SessionID       string
	Org             string
	TaskID          string
	Type            Type
	Status          Status
	Name            *string
	RequestMeta     map[string]any
	AssistantPrompt string
	Response        string
	Feedback        *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Saved reports whether the session has been promoted with a name.
func (s Session) Saved() bool {
	return s.Name != nil && *s.Name != ""
}

var (
	// ErrNotFound is returned when no session matches the id and org.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when an operation requires a settled session
	// but the session is still running.
	ErrConflict = errors.New("session is still in progress")
	// ErrInvalidArgument is returned when a request is self-inconsistent,
	// e.g. overwrite without the session to overwrite.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store persists sessions. Writes are last-writer-wins; see Manager for the
// accepted concurrency semantics.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s Session) error
	// Load returns the org's session or ErrNotFound.
	Load(ctx context.Context, org, sessionID string) (Session, error)
	// SetResult settles the session's status and response.
	SetResult(ctx context.Context, org, sessionID string, status Status, response string) error
	// SetName promotes the session to saved.
	SetName(ctx context.Context, org, sessionID, name string) error
	// SetFeedback overwrites the feedback field.
	SetFeedback(ctx context.Context, org, sessionID, feedback string) error
	// Delete removes the session. Deleting a missing session returns
	// ErrNotFound.
	Delete(ctx context.Context, org, sessionID string) error
	// ListSaved returns the org's saved sessions ordered most recently
	// updated first, plus the total saved count independent of the window.
	ListSaved(ctx context.Context, org string, limit, offset int) ([]Session, int, error)
	// DeleteUnsavedBefore removes settled, unsaved sessions last updated
	// before the cutoff and reports how many were removed.
	DeleteUnsavedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
