// Package singleflight prevents duplicate concurrent execution under one
// idempotency key. A guard writes a short-TTL marker through the shared
// progress store; the first caller to set the marker wins, later callers are
// refused until the marker expires. Expiry is the only release path: if a
// worker dies without reporting completion, the key frees itself after the
// TTL and a retry is permitted. Progress already written under the key is
// never rolled back.
package singleflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openplane/warehub/progress"
)

// DefaultTTL bounds how long a polling token stays exclusive when the
// executor never reports back.
const DefaultTTL = 10 * time.Minute

// keyPrefix namespaces guard markers away from progress histories.
const keyPrefix = "singleflight:"

// Guard acquires TTL-bounded execution markers in the shared store.
type Guard struct {
	store progress.Store
}

// New builds a guard on top of the shared progress store.
func New(store progress.Store) (*Guard, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Guard{store: store}, nil
}

// Acquire marks the key occupied for ttl. It returns true when no unexpired
// marker existed, false when another holder is still active. A non-positive
// ttl falls back to DefaultTTL so a marker can never outlive every executor.
func (g *Guard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := g.store.SetIfAbsent(ctx, keyPrefix+key, "1", ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// Held reports whether an unexpired marker exists for the key.
func (g *Guard) Held(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	ok, err := g.store.Exists(ctx, keyPrefix+key)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return ok, nil
}
