// Package redis provides the Redis-backed progress store shared by API and
// worker processes. Histories are Redis lists appended with RPUSH and read
// with LRANGE, so write order and read order always agree; markers are plain
// keys with TTLs. The store implements clue's health.Pinger so deployments can
// surface Redis connectivity on their health endpoint.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/health"

	"github.com/openplane/warehub/progress"
)

const storeClientName = "progress-redis"

// Options configures the store.
type Options struct {
	// Redis is the Redis connection. Required. The caller owns its lifecycle.
	Redis *redis.Client
	// OperationTimeout bounds individual store operations. Zero means no timeout.
	OperationTimeout time.Duration
}

// Store implements progress.Store on Redis.
type Store struct {
	rdb     *redis.Client
	timeout time.Duration
}

var _ progress.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// New builds a Redis-backed progress store.
func New(opts Options) (*Store, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &Store{rdb: opts.Redis, timeout: opts.OperationTimeout}, nil
}

// Name identifies the store to health checkers.
func (s *Store) Name() string { return storeClientName }

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.rdb.Ping(ctx).Err()
}

// Append pushes the JSON-encoded entry onto the end of the key's list.
func (s *Store) Append(ctx context.Context, key string, e progress.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal progress entry: %w", err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rdb.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// Read returns the whole ordered history for the key. Missing keys yield an
// empty history.
func (s *Store) Read(ctx context.Context, key string) ([]progress.Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	entries := make([]progress.Entry, 0, len(raw))
	for _, item := range raw {
		var e progress.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode progress entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SetWithTTL stores an expiring marker value.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores the marker only when the key holds no unexpired value.
// Redis SETNX makes the check-and-set atomic across processes.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Exists reports whether the key holds an unexpired value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Expire arms the expiry on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
