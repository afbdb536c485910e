// Package middleware provides reusable llm.Summarizer middlewares such as
// adaptive rate limiting.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/openplane/warehub/llm"
)

type (
	// AdaptiveRateLimiter applies an AIMD-style token bucket on top of an
	// llm.Summarizer. It estimates the token cost of each request, blocks
	// callers until capacity is available, halves its tokens-per-minute
	// budget when the provider signals rate limiting and grows it back
	// additively on success.
	//
	// Construct one instance per process and hand Wrap's result to the
	// workers.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64

		// publish, when set, pushes a local budget change to the cluster.
		publish func(next func(cur float64) float64)
	}

	limitedSummarizer struct {
		next    llm.Summarizer
		limiter *AdaptiveRateLimiter
	}

	// budgetMap is the subset of rmap.Map the cluster-aware limiter needs.
	budgetMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}
)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with a
// tokens-per-minute budget. When m and key are set the budget is shared
// across worker processes through a Pulse replicated map; otherwise the
// limiter is process-local.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil || key == "" {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	return newSharedRateLimiter(ctx, m, key, initialTPM, maxTPM)
}

func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		// Conservative budget when callers do not provide one.
		initialTPM = 60000
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := max(initialTPM*0.1, 1)
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: max(initialTPM*0.05, 1),
	}
}

// Wrap returns a Summarizer that enforces the adaptive tokens-per-minute
// limit before delegating to next.
func (l *AdaptiveRateLimiter) Wrap(next llm.Summarizer) llm.Summarizer {
	if next == nil {
		return nil
	}
	return &limitedSummarizer{next: next, limiter: l}
}

func (s *limitedSummarizer) Summarize(ctx context.Context, req llm.Request) (string, error) {
	if err := s.limiter.limiter.WaitN(ctx, estimateTokens(req)); err != nil {
		return "", err
	}
	resp, err := s.next.Summarize(ctx, req)
	s.limiter.observe(err)
	return resp, err
}

// observe adjusts the budget after a provider call: rate limiting halves it,
// success recovers one additive step, other errors leave it untouched.
func (l *AdaptiveRateLimiter) observe(err error) {
	switch {
	case err == nil:
		l.adjust(func(cur float64) float64 { return cur + l.recoveryRate })
	case errors.Is(err, llm.ErrRateLimited):
		l.adjust(func(cur float64) float64 { return cur * 0.5 })
	}
}

// adjust applies next to the local budget, clamps it to [minTPM, maxTPM] and,
// in cluster mode, replays the same transition against the shared map.
func (l *AdaptiveRateLimiter) adjust(next func(cur float64) float64) {
	l.mu.Lock()
	target := l.clamp(next(l.currentTPM))
	changed := target != l.currentTPM
	if changed {
		l.setTPM(target)
	}
	publish := l.publish
	l.mu.Unlock()

	if changed && publish != nil {
		publish(next)
	}
}

// setTPM installs the budget on the underlying bucket. Callers hold mu and
// pass an already clamped value.
func (l *AdaptiveRateLimiter) setTPM(tpm float64) {
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

func (l *AdaptiveRateLimiter) clamp(tpm float64) float64 {
	if tpm < l.minTPM {
		return l.minTPM
	}
	if tpm > l.maxTPM {
		return l.maxTPM
	}
	return tpm
}

// reconcile overwrites the local budget with a value observed on the shared
// map, without republishing it.
func (l *AdaptiveRateLimiter) reconcile(tpm float64) {
	l.mu.Lock()
	if t := l.clamp(tpm); t != l.currentTPM {
		l.setTPM(t)
	}
	l.mu.Unlock()
}

// estimateTokens computes a cheap heuristic for the token cost of a request:
// prompt and record characters at a fixed ratio plus a buffer for the system
// prompt and provider framing.
func estimateTokens(req llm.Request) int {
	charCount := len(req.Prompt)
	for _, row := range req.Records {
		for k, v := range row {
			charCount += len(k)
			if s, ok := v.(string); ok {
				charCount += len(s)
			} else {
				charCount += 8
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	return max(charCount/3, 1) + 500
}

func newSharedRateLimiter(ctx context.Context, m budgetMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	// Seed the shared budget on first join. Losing the race to a concurrent
	// writer is fine, the current value is read back below either way.
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			// Degrade to a process-local limiter so callers keep making
			// progress.
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			initialTPM = v
		}
	}

	l := newAdaptiveRateLimiter(initialTPM, maxTPM)
	l.mu.Lock()
	l.publish = func(next func(cur float64) float64) {
		go shareTransition(m, key, l.minTPM, l.maxTPM, next)
	}
	l.mu.Unlock()

	// Reconcile the local bucket whenever another node moves the shared
	// budget.
	updates := m.Subscribe()
	go func() {
		for range updates {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				l.reconcile(v)
			}
		}
	}()

	return l
}

// shareTransition replays a budget transition against the shared map with a
// bounded compare-and-swap loop. Losing every attempt is acceptable: another
// node moved the budget concurrently and the subscription will reconcile us.
func shareTransition(m budgetMap, key string, floor, ceiling float64, next func(cur float64) float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		target := next(cur)
		if target < floor {
			target = floor
		}
		if target > ceiling {
			target = ceiling
		}
		if target == cur {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(target)))
		if err != nil || prev == curStr {
			return
		}
	}
}
