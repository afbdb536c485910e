package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/clue/log"
	"goa.design/pulse/pool"
)

// Sweeper garbage-collects ephemeral sessions: settled sessions that were
// never saved under a name are deleted once they fall outside the retention
// window. The sweep runs on a Pulse distributed ticker so that in a
// multi-node deployment exactly one node fires per interval.
type Sweeper struct {
	store     Store
	node      *pool.Node
	interval  time.Duration
	retention time.Duration

	mu     sync.Mutex
	ticker *pool.Ticker
	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	// Store is the session store to sweep. Required.
	Store Store
	// Node is the Pulse pool node coordinating the distributed ticker. Required.
	Node *pool.Node
	// Interval is the sweep cadence. Defaults to 1 hour.
	Interval time.Duration
	// Retention is how long unsaved sessions are kept after their last
	// update. Defaults to 24 hours.
	Retention time.Duration
}

// NewSweeper builds a Sweeper.
func NewSweeper(opts SweeperOptions) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Node == nil {
		return nil, errors.New("pool node is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Sweeper{
		store:     opts.Store,
		node:      opts.Node,
		interval:  interval,
		retention: retention,
	}, nil
}

// Start creates the distributed ticker and launches the sweep loop. Calling
// Start twice is an error.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return errors.New("sweeper already started")
	}
	ticker, err := s.node.NewTicker(ctx, "session-sweeper", s.interval)
	if err != nil {
		return err
	}
	// The loop runs on its own context: the ticker's channel stays open after
	// Stop, so cancellation is the only reliable way to end the loop.
	loopCtx, cancel := context.WithCancel(context.Background())
	s.ticker = ticker
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, ticker.C, s.done)
	return nil
}

// Stop halts the ticker and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	ticker := s.ticker
	cancel := s.cancel
	done := s.done
	s.ticker = nil
	s.cancel = nil
	s.mu.Unlock()
	if ticker == nil {
		return
	}
	cancel()
	ticker.Stop()
	<-done
}

func (s *Sweeper) run(ctx context.Context, ticks <-chan time.Time, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteUnsavedBefore(ctx, cutoff)
	if err != nil {
		log.Errorf(ctx, err, "sweep unsaved sessions")
		return
	}
	if deleted > 0 {
		log.Infof(ctx, "swept %d unsaved sessions older than %s", deleted, s.retention)
	}
}
