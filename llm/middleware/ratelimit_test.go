package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/openplane/warehub/llm"
	"github.com/openplane/warehub/warehouse"
)

type fakeSummarizer struct {
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ llm.Request) (string, error) {
	f.calls++
	return "", f.err
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)
	initialTPM := limiter.currentTPM

	wrapped := limiter.Wrap(&fakeSummarizer{err: llm.ErrRateLimited})

	_, err := wrapped.Summarize(context.Background(), llm.Request{Prompt: "hello"})
	if err == nil || !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if limiter.currentTPM >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	wrapped := limiter.Wrap(&fakeSummarizer{})

	if _, err := wrapped.Summarize(context.Background(), llm.Request{Prompt: "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if limiter.currentTPM <= initialTPM {
		t.Fatalf("expected TPM to increase, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_OtherErrorsLeaveBudget(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)
	initialTPM := limiter.currentTPM

	wrapped := limiter.Wrap(&fakeSummarizer{err: errors.New("boom")})

	if _, err := wrapped.Summarize(context.Background(), llm.Request{Prompt: "hello"}); err == nil {
		t.Fatal("expected error")
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if limiter.currentTPM != initialTPM {
		t.Fatalf("expected TPM unchanged, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestEstimateTokensScalesWithRecords(t *testing.T) {
	small := estimateTokens(llm.Request{Prompt: "hi"})
	large := estimateTokens(llm.Request{
		Prompt: "hi",
		Records: []warehouse.Row{{
			"description": string(make([]byte, 10000)),
		}},
	})
	if large <= small {
		t.Fatalf("expected larger estimate for larger request: %d <= %d", large, small)
	}
}
