package inmem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/openplane/warehub/progress"
)

func TestAppendReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Append(ctx, "k", progress.Entry{Message: "one", Status: progress.StatusFetching}))
	require.NoError(t, store.Append(ctx, "k", progress.Entry{Message: "two", Status: progress.StatusSuccess}))

	entries, err := store.Read(ctx, "k")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "one", entries[0].Message)
	require.Equal(t, "two", entries[1].Message)
}

func TestReadMissingKeyIsEmpty(t *testing.T) {
	entries, err := New().Read(context.Background(), "absent")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSetIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := New()

	ok, err := store.SetIfAbsent(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SetIfAbsent(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetIfAbsentAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	ok, err := store.SetIfAbsent(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = store.SetIfAbsent(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExistsTracksMarkerExpiry(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.SetWithTTL(ctx, "m", "v", time.Minute))
	ok, err := store.Exists(ctx, "m")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = store.Exists(ctx, "m")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestReadPreservesWriteOrderProperty checks the prefix property: for any
// sequence of appended messages, reading back returns exactly that sequence in
// write order.
func TestReadPreservesWriteOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("read returns entries in append order", prop.ForAll(
		func(messages []string) bool {
			ctx := context.Background()
			store := New()
			key := "prop"
			for i, m := range messages {
				e := progress.Entry{Message: fmt.Sprintf("%d:%s", i, m), Status: progress.StatusFetching}
				if err := store.Append(ctx, key, e); err != nil {
					return false
				}
			}
			entries, err := store.Read(ctx, key)
			if err != nil || len(entries) != len(messages) {
				return false
			}
			for i, m := range messages {
				if entries[i].Message != fmt.Sprintf("%d:%s", i, m) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
