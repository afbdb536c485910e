// Package progress defines the shared task progress protocol: an append-only,
// per-task log of status entries kept in a process-external store. The
// submission gateway writes the first entry, background workers append the
// rest, and clients poll the ordered history until they observe a terminal
// status. Entries expire as a unit via a store-level TTL; nothing deletes them
// by name.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status classifies a progress entry.
type Status string

const (
	// StatusFetching marks work that is still running.
	StatusFetching Status = "fetching"
	// StatusError marks a terminal failure.
	StatusError Status = "error"
	// StatusSuccess marks terminal completion.
	StatusSuccess Status = "success"
)

// Terminal reports whether the status ends a task's history. No entry may be
// appended after a terminal one.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusSuccess
}

type (
	// Entry is one record in a task's append-only history. Results are opaque
	// to the protocol; workers marshal their own record types into them.
	Entry struct {
		// Message is a human-readable description of the current state.
		Message string `json:"message"`
		// Status classifies the entry.
		Status Status `json:"status"`
		// Results holds the cumulative result records known so far.
		Results []json.RawMessage `json:"results"`
		// At records when the entry was appended (UTC).
		At time.Time `json:"at"`
	}

	// Store is the process-external key-value store shared by the request path
	// and the worker path. Implementations must keep appends ordered per key
	// and make reads return a prefix of the write order.
	Store interface {
		// Append adds an entry at the end of the key's history.
		Append(ctx context.Context, key string, e Entry) error
		// Read returns the full ordered history for the key. A missing key
		// yields an empty history, not an error.
		Read(ctx context.Context, key string) ([]Entry, error)
		// SetWithTTL stores an expiring marker value under the key.
		SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
		// Expire arms or refreshes the expiry of an existing key. Expiring a
		// history key drops the whole ordered log at once.
		Expire(ctx context.Context, key string, ttl time.Duration) error
		// SetIfAbsent stores the marker only when no unexpired value exists.
		// Returns true when the marker was set. The operation is atomic.
		SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
		// Exists reports whether an unexpired value is stored under the key.
		Exists(ctx context.Context, key string) (bool, error)
	}
)

// Namespace prefixes scope progress keys per task kind. The prefix doubles as
// the expiry scope: all entries under one key share the same TTL.
const (
	// PrefixInsights scopes column insight computations.
	PrefixInsights = "insights:"
	// PrefixSummarize scopes LLM summarization tasks.
	PrefixSummarize = "summarize:"
)

// ErrTerminal is returned when appending after a terminal entry.
var ErrTerminal = errors.New("progress history already terminated")

// Tracker appends progress entries for one task under a namespaced key. It
// stamps timestamps, applies the expiry on first append, and refuses appends
// once a terminal entry has been written. A tracker assumes it is the sole
// writer for its task, which the submission protocol guarantees: every
// submission gets a fresh task identifier.
type Tracker struct {
	store    Store
	key      string
	ttl      time.Duration
	appended int
	done     bool
}

// NewTracker builds a tracker for the given namespace prefix and task id.
func NewTracker(store Store, prefix, taskID string, ttl time.Duration) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if prefix == "" {
		return nil, errors.New("prefix is required")
	}
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	return &Tracker{store: store, key: prefix + taskID, ttl: ttl}, nil
}

// Key returns the namespaced store key the tracker writes under.
func (t *Tracker) Key() string { return t.key }

// Add appends an entry to the task's history. The first append arms the
// store-level expiry so abandoned histories are garbage collected whether or
// not the task ever terminates.
func (t *Tracker) Add(ctx context.Context, e Entry) error {
	if t.done {
		return fmt.Errorf("append %q: %w", t.key, ErrTerminal)
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := t.store.Append(ctx, t.key, e); err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	t.appended++
	if t.appended == 1 && t.ttl > 0 {
		if err := t.store.Expire(ctx, t.key, t.ttl); err != nil {
			return fmt.Errorf("set progress expiry: %w", err)
		}
	}
	if e.Status.Terminal() {
		t.done = true
	}
	return nil
}

// Entries reads back the ordered history for the task.
func (t *Tracker) Entries(ctx context.Context) ([]Entry, error) {
	return t.store.Read(ctx, t.key)
}

// MarshalResults encodes arbitrary result records into the opaque form carried
// by entries. It fails on the first record that cannot be serialized.
func MarshalResults[T any](records []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(records))
	for i, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal result %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
