// Package worker implements the background executor pool. Workers consume
// task envelopes from the shared Pulse stream through one consumer group, so
// each task is handled by exactly one worker and redelivered if that worker
// dies before acknowledging it. All results flow back to clients through the
// progress store and the session store; nothing is returned in-memory.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/clue/log"
	"goa.design/pulse/streaming"

	"github.com/openplane/warehub/llm"
	"github.com/openplane/warehub/progress"
	"github.com/openplane/warehub/queue"
	"github.com/openplane/warehub/session"
	"github.com/openplane/warehub/tasks"
	"github.com/openplane/warehub/telemetry"
	"github.com/openplane/warehub/warehouse"
)

const (
	// DefaultSinkName is the consumer group shared by all workers.
	DefaultSinkName = "warehub-workers"
	// DefaultConcurrency is the number of concurrent task handlers per worker
	// process.
	DefaultConcurrency = 4
)

// Options configures a Worker.
type Options struct {
	// Queue provides access to the task stream. Required.
	Queue queue.Client
	// StreamName is the task stream to consume. Defaults to
	// tasks.DefaultStreamName.
	StreamName string
	// SinkName is the consumer group name. Defaults to DefaultSinkName.
	SinkName string
	// Progress is the shared store task histories are appended to. Required.
	Progress progress.Store
	// Sessions persists summarization sessions. Required.
	Sessions session.Store
	// Warehouses resolves and opens per-organization warehouse clients.
	// Required.
	Warehouses *warehouse.Service
	// Summarizer answers natural-language prompts over result sets. Required.
	Summarizer llm.Summarizer
	// Concurrency is the number of concurrent handlers. Defaults to
	// DefaultConcurrency.
	Concurrency int
	// ProgressTTL is the expiry refreshed on task histories. Defaults to
	// tasks.DefaultProgressTTL.
	ProgressTTL time.Duration
	// Metrics records task outcome counters. Optional.
	Metrics *telemetry.Metrics
}

// Worker consumes and executes background tasks.
type Worker struct {
	queue       queue.Client
	streamName  string
	sinkName    string
	store       progress.Store
	sessions    session.Store
	warehouses  *warehouse.Service
	summarizer  llm.Summarizer
	concurrency int
	progressTTL time.Duration
	metrics     *telemetry.Metrics

	mu   sync.Mutex
	sink queue.Sink
	wg   sync.WaitGroup
}

// New builds a Worker.
func New(opts Options) (*Worker, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue client is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("progress store is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Warehouses == nil {
		return nil, errors.New("warehouse service is required")
	}
	if opts.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	streamName := opts.StreamName
	if streamName == "" {
		streamName = tasks.DefaultStreamName
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = DefaultSinkName
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	progressTTL := opts.ProgressTTL
	if progressTTL <= 0 {
		progressTTL = tasks.DefaultProgressTTL
	}
	return &Worker{
		queue:       opts.Queue,
		streamName:  streamName,
		sinkName:    sinkName,
		store:       opts.Progress,
		sessions:    opts.Sessions,
		warehouses:  opts.Warehouses,
		summarizer:  opts.Summarizer,
		concurrency: concurrency,
		progressTTL: progressTTL,
		metrics:     opts.Metrics,
	}, nil
}

// Start joins the consumer group and launches the handler goroutines. Calling
// Start twice is an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sink != nil {
		return errors.New("worker already started")
	}
	stream, err := w.queue.Stream(w.streamName)
	if err != nil {
		return err
	}
	sink, err := stream.NewSink(ctx, w.sinkName)
	if err != nil {
		return err
	}
	w.sink = sink
	ch := sink.Subscribe()
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consume(ctx, sink, ch)
	}
	log.Info(ctx, log.KV{K: "msg", V: "worker started"},
		log.KV{K: "stream", V: w.streamName},
		log.KV{K: "sink", V: w.sinkName},
		log.KV{K: "concurrency", V: w.concurrency})
	return nil
}

// Close stops consumption and waits for in-flight handlers to finish.
func (w *Worker) Close(ctx context.Context) {
	w.mu.Lock()
	sink := w.sink
	w.sink = nil
	w.mu.Unlock()
	if sink == nil {
		return
	}
	sink.Close(ctx)
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context, sink queue.Sink, ch <-chan *streaming.Event) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			w.handle(ctx, evt)
			// Handler failures are reported through the progress store as
			// terminal ERROR entries; the event is acknowledged either way so
			// a poison envelope cannot wedge the group.
			if err := sink.Ack(ctx, evt); err != nil {
				log.Errorf(ctx, err, "ack task event %s", evt.ID)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, evt *streaming.Event) {
	env, err := tasks.DecodeEnvelope(evt.Payload)
	if err != nil {
		log.Errorf(ctx, err, "discard undecodable task event %s", evt.ID)
		return
	}
	ctx = log.With(ctx, log.KV{K: "task", V: env.TaskID}, log.KV{K: "kind", V: env.Kind})
	started := time.Now()
	switch env.Kind {
	case tasks.KindInsight:
		err = w.runInsight(ctx, env)
	case tasks.KindSummarize:
		err = w.runSummarize(ctx, env)
	default:
		log.Errorf(ctx, nil, "discard task with unknown kind %q", env.Kind)
		return
	}
	w.metrics.TaskDuration(ctx, string(env.Kind), time.Since(started))
	if err != nil {
		w.metrics.TaskFailed(ctx, string(env.Kind))
		log.Errorf(ctx, err, "task failed")
		return
	}
	w.metrics.TaskCompleted(ctx, string(env.Kind))
}

// fail writes the terminal ERROR entry for a task. The progress history is
// the only error channel clients see, so the message must stand on its own.
func (w *Worker) fail(ctx context.Context, tracker *progress.Tracker, message string) {
	entry := progress.Entry{Message: message, Status: progress.StatusError}
	if err := tracker.Add(ctx, entry); err != nil {
		log.Errorf(ctx, err, "record task failure")
	}
}
