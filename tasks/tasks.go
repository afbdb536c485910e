// Package tasks defines the asynchronous work protocol between the submission
// gateway and the background workers: the work descriptor envelope published
// on the task stream, and the gateway that validates submissions, issues task
// identifiers and seeds the progress history clients poll.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the type of background work.
type Kind string

const (
	// KindInsight computes column statistics against the warehouse.
	KindInsight Kind = "insight"
	// KindSummarize runs SQL and summarizes the result set with an LLM.
	KindSummarize Kind = "summarize"
)

// DefaultStreamName is the Pulse stream carrying task envelopes.
const DefaultStreamName = "warehub:tasks"

// InsightRequest describes a column insight computation.
type InsightRequest struct {
	Org    string `json:"org"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
	// Refresh forces recomputation even when a cached result exists.
	Refresh bool `json:"refresh,omitempty"`
}

// SummarizeRequest describes an LLM summarization over a SQL result set.
type SummarizeRequest struct {
	Org string `json:"org"`
	// SQL is the statement to execute. The gateway validates and may rewrite
	// it (row limit injection) before dispatch.
	SQL string `json:"sql"`
	// Prompt is the user's natural-language question about the result set.
	Prompt string `json:"prompt"`
}

// Envelope is the work descriptor published on the task stream. Exactly one
// of Insight and Summarize is set, matching Kind.
type Envelope struct {
	TaskID     string            `json:"task_id"`
	Kind       Kind              `json:"kind"`
	Org        string            `json:"org"`
	Insight    *InsightRequest   `json:"insight,omitempty"`
	Summarize  *SummarizeRequest `json:"summarize,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Encode serializes the envelope for the stream.
func (e Envelope) Encode() ([]byte, error) {
	if e.TaskID == "" {
		return nil, errors.New("task id is required")
	}
	switch e.Kind {
	case KindInsight:
		if e.Insight == nil {
			return nil, errors.New("insight payload is required")
		}
	case KindSummarize:
		if e.Summarize == nil {
			return nil, errors.New("summarize payload is required")
		}
	default:
		return nil, fmt.Errorf("unknown task kind %q", e.Kind)
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses an envelope off the stream.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode task envelope: %w", err)
	}
	if e.TaskID == "" {
		return Envelope{}, errors.New("task envelope missing task id")
	}
	return e, nil
}
