package progress_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openplane/warehub/progress"
	"github.com/openplane/warehub/progress/inmem"
)

func TestNewTrackerValidation(t *testing.T) {
	store := inmem.New()
	_, err := progress.NewTracker(nil, progress.PrefixInsights, "t1", time.Hour)
	require.EqualError(t, err, "store is required")
	_, err = progress.NewTracker(store, "", "t1", time.Hour)
	require.EqualError(t, err, "prefix is required")
	_, err = progress.NewTracker(store, progress.PrefixInsights, "", time.Hour)
	require.EqualError(t, err, "task id is required")
}

func TestTrackerAppendsUnderNamespacedKey(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	tracker, err := progress.NewTracker(store, progress.PrefixInsights, "task-1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "insights:task-1", tracker.Key())

	require.NoError(t, tracker.Add(ctx, progress.Entry{Message: "fetching", Status: progress.StatusFetching}))

	entries, err := store.Read(ctx, "insights:task-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, progress.StatusFetching, entries[0].Status)
	require.False(t, entries[0].At.IsZero())
}

func TestTrackerRejectsAppendAfterTerminal(t *testing.T) {
	ctx := context.Background()
	tracker, err := progress.NewTracker(inmem.New(), progress.PrefixSummarize, "task-2", 0)
	require.NoError(t, err)

	require.NoError(t, tracker.Add(ctx, progress.Entry{Status: progress.StatusFetching}))
	require.NoError(t, tracker.Add(ctx, progress.Entry{Status: progress.StatusSuccess}))

	err = tracker.Add(ctx, progress.Entry{Status: progress.StatusFetching})
	require.ErrorIs(t, err, progress.ErrTerminal)

	entries, err := tracker.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTrackerHistoryExpires(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	tracker, err := progress.NewTracker(store, progress.PrefixInsights, "task-3", time.Minute)
	require.NoError(t, err)
	require.NoError(t, tracker.Add(ctx, progress.Entry{Status: progress.StatusFetching}))

	now = now.Add(2 * time.Minute)
	entries, err := store.Read(ctx, "insights:task-3")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReadIsIdempotentWithoutWrites(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	tracker, err := progress.NewTracker(store, progress.PrefixInsights, "task-4", 0)
	require.NoError(t, err)
	require.NoError(t, tracker.Add(ctx, progress.Entry{Message: "a", Status: progress.StatusFetching}))
	require.NoError(t, tracker.Add(ctx, progress.Entry{Message: "b", Status: progress.StatusFetching}))

	first, err := tracker.Entries(ctx)
	require.NoError(t, err)
	second, err := tracker.Entries(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMarshalResults(t *testing.T) {
	type metric struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}
	raw, err := progress.MarshalResults([]metric{{Name: "count", Value: 3}})
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var decoded metric
	require.NoError(t, json.Unmarshal(raw[0], &decoded))
	require.Equal(t, metric{Name: "count", Value: 3}, decoded)
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, progress.StatusFetching.Terminal())
	require.True(t, progress.StatusError.Terminal())
	require.True(t, progress.StatusSuccess.Terminal())
}
