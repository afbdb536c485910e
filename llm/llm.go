// Package llm defines the summarization contract between the background
// workers and the model providers. Provider adapters live in subpackages
// (llm/anthropic, llm/openai, llm/bedrock); llm/middleware adds adaptive rate
// limiting on top of any Summarizer.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openplane/warehub/warehouse"
)

// DefaultSystemPrompt frames the model's role when the caller does not
// provide one.
const DefaultSystemPrompt = "You are a data analyst. You are given the " +
	"result set of a SQL query as JSON records and a question about it. " +
	"Answer the question using only the provided records. Be concise and " +
	"state clearly when the records do not contain the answer."

// ErrRateLimited is returned when the provider refuses the call due to rate
// limiting. Callers may retry after backing off.
var ErrRateLimited = errors.New("llm provider rate limited")

// Request is one summarization call: a natural-language prompt over a
// normalized result set.
type Request struct {
	// Prompt is the user's question about the records.
	Prompt string
	// SystemPrompt frames the assistant. Empty uses DefaultSystemPrompt.
	SystemPrompt string
	// Records is the normalized result set the question is about.
	Records []warehouse.Row
}

// Summarizer produces a natural-language answer for a request. Calls are
// synchronous and may fail with ErrRateLimited or a provider error.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, req Request) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// System returns the effective system prompt for the request.
func (r Request) System() string {
	if r.SystemPrompt != "" {
		return r.SystemPrompt
	}
	return DefaultSystemPrompt
}

// UserMessage renders the prompt and serialized records into the single user
// message sent to the provider.
func (r Request) UserMessage() (string, error) {
	if r.Prompt == "" {
		return "", errors.New("prompt is required")
	}
	records, err := json.Marshal(r.Records)
	if err != nil {
		return "", fmt.Errorf("serialize records: %w", err)
	}
	var b strings.Builder
	b.WriteString(r.Prompt)
	b.WriteString("\n\nQuery results (JSON):\n")
	b.Write(records)
	return b.String(), nil
}
