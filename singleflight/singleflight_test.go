package singleflight

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openplane/warehub/progress/inmem"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.EqualError(t, err, "store is required")
}

func TestAcquireExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	guard, err := New(inmem.New())
	require.NoError(t, err)

	first, err := guard.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	second, err := guard.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	require.True(t, first)
	require.False(t, second)
}

func TestAcquireConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	guard, err := New(inmem.New())
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := guard.Acquire(ctx, "job-2", time.Minute)
			require.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for ok := range wins {
		if ok {
			won++
		}
	}
	require.Equal(t, 1, won)
}

func TestAcquireAgainAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	guard, err := New(store)
	require.NoError(t, err)

	ok, err := guard.Acquire(ctx, "job-3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = guard.Acquire(ctx, "job-3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHeld(t *testing.T) {
	ctx := context.Background()
	guard, err := New(inmem.New())
	require.NoError(t, err)

	held, err := guard.Held(ctx, "job-4")
	require.NoError(t, err)
	require.False(t, held)

	_, err = guard.Acquire(ctx, "job-4", time.Minute)
	require.NoError(t, err)

	held, err = guard.Held(ctx, "job-4")
	require.NoError(t, err)
	require.True(t, held)
}
