package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/openplane/warehub/org"
	"github.com/openplane/warehub/progress"
	"github.com/openplane/warehub/singleflight"
	"github.com/openplane/warehub/tasks/sqlcheck"
	"github.com/openplane/warehub/telemetry"
)

var (
	// ErrNotConfigured is returned when the org has no warehouse connected.
	ErrNotConfigured = errors.New("no warehouse configured for organization")
	// ErrInvalidQuery is returned when submitted SQL fails validation. The
	// wrapped cause carries the specific rule that failed.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInternal is returned when an accepted task cannot be enqueued.
	ErrInternal = errors.New("internal error")
)

// DefaultMaxLLMRows caps the rows a summarization query may feed the LLM.
const DefaultMaxLLMRows = 500

// DefaultProgressTTL bounds how long a task's progress history stays
// readable. Histories expire as a unit whether or not the task terminated.
const DefaultProgressTTL = time.Hour

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// Orgs resolves warehouse configuration per organization. Required.
	Orgs org.Store
	// Progress is the shared store seeded with each task's first entry.
	// Required.
	Progress progress.Store
	// Stream is the task stream work is published on. Required.
	Stream Stream
	// Guard registers single-flight markers for summarization tokens.
	// Required.
	Guard *singleflight.Guard
	// MaxLLMRows caps summarization result sets. Defaults to
	// DefaultMaxLLMRows.
	MaxLLMRows int
	// ProgressTTL is the expiry applied to progress histories. Defaults to
	// DefaultProgressTTL.
	ProgressTTL time.Duration
	// SummarizeTTL bounds summarization single-flight markers. Defaults to
	// singleflight.DefaultTTL.
	SummarizeTTL time.Duration
	// Metrics records submission counters. Optional.
	Metrics *telemetry.Metrics
}

// Stream is the gateway's view of the task queue: publish only.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// Gateway validates work submissions and hands them to the background
// workers. Submission never blocks on the work itself: the gateway writes the
// initial FETCHING progress entry, publishes the envelope and returns the
// task identifier for polling.
type Gateway struct {
	orgs         org.Store
	store        progress.Store
	stream       Stream
	guard        *singleflight.Guard
	maxLLMRows   int
	progressTTL  time.Duration
	summarizeTTL time.Duration
	metrics      *telemetry.Metrics
}

// NewGateway builds a Gateway.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.Orgs == nil {
		return nil, errors.New("org store is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("progress store is required")
	}
	if opts.Stream == nil {
		return nil, errors.New("task stream is required")
	}
	if opts.Guard == nil {
		return nil, errors.New("singleflight guard is required")
	}
	maxRows := opts.MaxLLMRows
	if maxRows <= 0 {
		maxRows = DefaultMaxLLMRows
	}
	progressTTL := opts.ProgressTTL
	if progressTTL <= 0 {
		progressTTL = DefaultProgressTTL
	}
	summarizeTTL := opts.SummarizeTTL
	if summarizeTTL <= 0 {
		summarizeTTL = singleflight.DefaultTTL
	}
	return &Gateway{
		orgs:         opts.Orgs,
		store:        opts.Progress,
		stream:       opts.Stream,
		guard:        opts.Guard,
		maxLLMRows:   maxRows,
		progressTTL:  progressTTL,
		summarizeTTL: summarizeTTL,
		metrics:      opts.Metrics,
	}, nil
}

// SubmitInsight accepts a column insight computation and returns its task
// identifier.
func (g *Gateway) SubmitInsight(ctx context.Context, req InsightRequest) (string, error) {
	if req.Org == "" || req.Schema == "" || req.Table == "" || req.Column == "" {
		return "", fmt.Errorf("%w: org, schema, table and column are required", ErrInvalidQuery)
	}
	if err := g.requireWarehouse(ctx, req.Org); err != nil {
		g.metrics.TaskRejected(ctx, string(KindInsight))
		return "", err
	}
	taskID := uuid.NewString()
	env := Envelope{
		TaskID:     taskID,
		Kind:       KindInsight,
		Org:        req.Org,
		Insight:    &req,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := g.dispatch(ctx, progress.PrefixInsights, env, "fetching insights"); err != nil {
		return "", err
	}
	log.Info(ctx, log.KV{K: "task", V: taskID}, log.KV{K: "kind", V: KindInsight},
		log.KV{K: "org", V: req.Org}, log.KV{K: "column", V: req.Column})
	return taskID, nil
}

// SubmitSummarize accepts an LLM summarization over a SQL result set and
// returns its task identifier. The SQL must be a single SELECT; a row limit
// above the configured maximum is rejected and a missing one is injected at
// that maximum. The issued identifier doubles as the single-flight token
// bounding duplicate polling work.
func (g *Gateway) SubmitSummarize(ctx context.Context, req SummarizeRequest) (string, error) {
	if req.Org == "" {
		return "", fmt.Errorf("%w: org is required", ErrInvalidQuery)
	}
	if req.Prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidQuery)
	}
	if err := g.requireWarehouse(ctx, req.Org); err != nil {
		g.metrics.TaskRejected(ctx, string(KindSummarize))
		return "", err
	}
	rewritten, err := sqlcheck.Check(req.SQL, g.maxLLMRows)
	if err != nil {
		g.metrics.TaskRejected(ctx, string(KindSummarize))
		return "", fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	req.SQL = rewritten
	taskID := uuid.NewString()
	env := Envelope{
		TaskID:     taskID,
		Kind:       KindSummarize,
		Org:        req.Org,
		Summarize:  &req,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := g.dispatch(ctx, progress.PrefixSummarize, env, "fetching"); err != nil {
		return "", err
	}
	if _, err := g.guard.Acquire(ctx, taskID, g.summarizeTTL); err != nil {
		// The task is already enqueued; a failed marker only weakens duplicate
		// protection, it does not invalidate the work.
		log.Errorf(ctx, err, "register singleflight marker for %s", taskID)
	}
	log.Info(ctx, log.KV{K: "task", V: taskID}, log.KV{K: "kind", V: KindSummarize},
		log.KV{K: "org", V: req.Org})
	return taskID, nil
}

// Poll returns the ordered progress history for a task. Unknown or expired
// identifiers yield an empty history: expiry makes "never existed" and
// "expired" indistinguishable, so both read as empty rather than an error.
func (g *Gateway) Poll(ctx context.Context, kind Kind, taskID string) ([]progress.Entry, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidQuery)
	}
	var prefix string
	switch kind {
	case KindInsight:
		prefix = progress.PrefixInsights
	case KindSummarize:
		prefix = progress.PrefixSummarize
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", ErrInvalidQuery, kind)
	}
	entries, err := g.store.Read(ctx, prefix+taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: read progress: %v", ErrInternal, err)
	}
	return entries, nil
}

func (g *Gateway) requireWarehouse(ctx context.Context, orgName string) error {
	if _, err := g.orgs.Lookup(ctx, orgName); err != nil {
		if errors.Is(err, org.ErrNotFound) {
			return ErrNotConfigured
		}
		return fmt.Errorf("%w: lookup warehouse: %v", ErrInternal, err)
	}
	return nil
}

// dispatch seeds the task's progress history and publishes the envelope. The
// initial entry is written before the publish so a client polling immediately
// after submission always observes at least the FETCHING state.
func (g *Gateway) dispatch(ctx context.Context, prefix string, env Envelope, message string) error {
	tracker, err := progress.NewTracker(g.store, prefix, env.TaskID, g.progressTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	first := progress.Entry{Message: message, Status: progress.StatusFetching}
	if err := tracker.Add(ctx, first); err != nil {
		return fmt.Errorf("%w: seed progress: %v", ErrInternal, err)
	}
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %v", ErrInternal, err)
	}
	if _, err := g.stream.Add(ctx, string(env.Kind), payload); err != nil {
		g.metrics.TaskRejected(ctx, string(env.Kind))
		return fmt.Errorf("%w: enqueue task: %v", ErrInternal, err)
	}
	g.metrics.TaskSubmitted(ctx, string(env.Kind))
	return nil
}
