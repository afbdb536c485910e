package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplane/warehub/llm"
	"github.com/openplane/warehub/org"
	orginmem "github.com/openplane/warehub/org/inmem"
	"github.com/openplane/warehub/progress"
	proginmem "github.com/openplane/warehub/progress/inmem"
	"github.com/openplane/warehub/queue"
	"github.com/openplane/warehub/session"
	sessinmem "github.com/openplane/warehub/session/inmem"
	"github.com/openplane/warehub/tasks"
	"github.com/openplane/warehub/warehouse"
)

type fakeWarehouse struct {
	columns []warehouse.Column
	query   func(sql string) ([]warehouse.Row, error)
	closed  bool
}

func (f *fakeWarehouse) GetSchemas(context.Context) ([]string, error) { return nil, nil }
func (f *fakeWarehouse) GetTables(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f *fakeWarehouse) GetTableColumns(context.Context, string, string) ([]warehouse.Column, error) {
	return f.columns, nil
}
func (f *fakeWarehouse) GetTableData(context.Context, string, string, int, int, string, bool) ([]warehouse.Row, error) {
	return nil, nil
}
func (f *fakeWarehouse) GetTotalRows(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (f *fakeWarehouse) Query(_ context.Context, sql string) ([]warehouse.Row, error) {
	return f.query(sql)
}
func (f *fakeWarehouse) Close(context.Context) error {
	f.closed = true
	return nil
}

type stubQueue struct{}

func (stubQueue) Stream(string) (queue.Stream, error) {
	return nil, errors.New("not used")
}
func (stubQueue) Close(context.Context) error { return nil }

type testEnv struct {
	worker    *Worker
	store     *proginmem.Store
	sessions  *sessinmem.Store
	warehouse *fakeWarehouse
}

func newTestEnv(t *testing.T, summarizer llm.Summarizer, openErr error) *testEnv {
	t.Helper()
	ctx := context.Background()

	orgs := orginmem.New()
	require.NoError(t, orgs.Upsert(ctx, org.Warehouse{
		Org:  "acme",
		Type: org.WarehousePostgres,
		Name: "main",
		DSN:  "postgres://localhost/acme",
	}))

	fw := &fakeWarehouse{
		columns: []warehouse.Column{
			{Name: "amount", Type: "integer"},
			{Name: "label", Type: "text"},
		},
		query: func(string) ([]warehouse.Row, error) {
			return []warehouse.Row{{"value": 1}}, nil
		},
	}
	factory := warehouse.NewFactory()
	factory.Register(org.WarehousePostgres, warehouse.OpenerFunc(
		func(context.Context, org.Warehouse) (warehouse.Client, error) {
			if openErr != nil {
				return nil, openErr
			}
			return fw, nil
		}))
	svc, err := warehouse.NewService(orgs, factory)
	require.NoError(t, err)

	store := proginmem.New()
	sessions := sessinmem.New()
	if summarizer == nil {
		summarizer = llm.SummarizerFunc(func(context.Context, llm.Request) (string, error) {
			return "summary", nil
		})
	}
	w, err := New(Options{
		Queue:       stubQueue{},
		Progress:    store,
		Sessions:    sessions,
		Warehouses:  svc,
		Summarizer:  summarizer,
		ProgressTTL: time.Hour,
	})
	require.NoError(t, err)
	return &testEnv{worker: w, store: store, sessions: sessions, warehouse: fw}
}

func insightEnvelope() tasks.Envelope {
	return tasks.Envelope{
		TaskID: "task-1",
		Kind:   tasks.KindInsight,
		Org:    "acme",
		Insight: &tasks.InsightRequest{
			Org: "acme", Schema: "public", Table: "orders", Column: "amount",
		},
	}
}

func decodeMetrics(t *testing.T, entry progress.Entry) []warehouse.Metric {
	t.Helper()
	metrics := make([]warehouse.Metric, 0, len(entry.Results))
	for _, raw := range entry.Results {
		var m warehouse.Metric
		require.NoError(t, json.Unmarshal(raw, &m))
		metrics = append(metrics, m)
	}
	return metrics
}

func TestRunInsightComputesNumericMetrics(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, nil, nil)

	require.NoError(t, e.worker.runInsight(ctx, insightEnvelope()))

	entries, err := e.store.Read(ctx, progress.PrefixInsights+"task-1")
	require.NoError(t, err)
	// One entry per metric plus the terminal entry.
	require.Len(t, entries, 8)

	final := entries[len(entries)-1]
	assert.Equal(t, progress.StatusSuccess, final.Status)
	metrics := decodeMetrics(t, final)
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = m.Name
		assert.Empty(t, m.Err, m.Name)
	}
	assert.Equal(t, []string{
		"row_count", "null_count", "distinct_count", "min", "max", "avg", "top_values",
	}, names)
	assert.True(t, e.warehouse.closed)
}

func TestRunInsightSkipsNumericMetricsForText(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, nil, nil)
	env := insightEnvelope()
	env.Insight.Column = "label"

	require.NoError(t, e.worker.runInsight(ctx, env))

	entries, err := e.store.Read(ctx, progress.PrefixInsights+"task-1")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	metrics := decodeMetrics(t, entries[len(entries)-1])
	require.Len(t, metrics, 4)
	for _, m := range metrics {
		assert.NotContains(t, []string{"min", "max", "avg"}, m.Name)
	}
}

func TestRunInsightContinuesPastMetricFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, nil, nil)
	e.warehouse.query = func(sql string) ([]warehouse.Row, error) {
		if strings.Contains(sql, "IS NULL") {
			return nil, errors.New("permission denied")
		}
		return []warehouse.Row{{"value": 7}}, nil
	}

	require.NoError(t, e.worker.runInsight(ctx, insightEnvelope()))

	entries, err := e.store.Read(ctx, progress.PrefixInsights+"task-1")
	require.NoError(t, err)
	final := entries[len(entries)-1]
	// Partial results are preserved and the task still terminates SUCCESS.
	require.Equal(t, progress.StatusSuccess, final.Status)
	metrics := decodeMetrics(t, final)
	byName := make(map[string]warehouse.Metric, len(metrics))
	for _, m := range metrics {
		byName[m.Name] = m
	}
	assert.Contains(t, byName["null_count"].Err, "permission denied")
	assert.Empty(t, byName["row_count"].Err)
	assert.Equal(t, float64(7), byName["row_count"].Value)
}

func TestRunInsightConnectFailureIsTerminalError(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, nil, errors.New("connection refused"))

	require.Error(t, e.worker.runInsight(ctx, insightEnvelope()))

	entries, err := e.store.Read(ctx, progress.PrefixInsights+"task-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, progress.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Message, "connection refused")
}

func summarizeEnvelope() tasks.Envelope {
	return tasks.Envelope{
		TaskID: "task-2",
		Kind:   tasks.KindSummarize,
		Org:    "acme",
		Summarize: &tasks.SummarizeRequest{
			Org:    "acme",
			SQL:    "SELECT * FROM orders LIMIT 10",
			Prompt: "what stands out?",
		},
	}
}

func TestRunSummarizeSettlesSessionAndProgress(t *testing.T) {
	ctx := context.Background()
	var got llm.Request
	e := newTestEnv(t, llm.SummarizerFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return "revenue is concentrated in Q4", nil
	}), nil)
	e.warehouse.query = func(string) ([]warehouse.Row, error) {
		return []warehouse.Row{{"quarter": "Q4", "revenue": 1000}}, nil
	}

	require.NoError(t, e.worker.runSummarize(ctx, summarizeEnvelope()))

	assert.Equal(t, "what stands out?", got.Prompt)
	require.Len(t, got.Records, 1)

	entries, err := e.store.Read(ctx, progress.PrefixSummarize+"task-2")
	require.NoError(t, err)
	final := entries[len(entries)-1]
	require.Equal(t, progress.StatusSuccess, final.Status)
	require.Len(t, final.Results, 1)
	var result summarizeResult
	require.NoError(t, json.Unmarshal(final.Results[0], &result))
	assert.Equal(t, "revenue is concentrated in Q4", result.Response)
	require.NotEmpty(t, result.SessionID)

	sess, err := e.sessions.Load(ctx, "acme", result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusComplete, sess.Status)
	assert.Equal(t, "revenue is concentrated in Q4", sess.Response)
	assert.Equal(t, "task-2", sess.TaskID)
	assert.False(t, sess.Saved())
}

func TestRunSummarizeQueryFailureSettlesError(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, nil, nil)
	e.warehouse.query = func(string) ([]warehouse.Row, error) {
		return nil, errors.New("relation does not exist")
	}

	require.Error(t, e.worker.runSummarize(ctx, summarizeEnvelope()))

	entries, err := e.store.Read(ctx, progress.PrefixSummarize+"task-2")
	require.NoError(t, err)
	final := entries[len(entries)-1]
	require.Equal(t, progress.StatusError, final.Status)
	assert.Contains(t, final.Message, "relation does not exist")

	page, total, err := e.sessions.ListSaved(ctx, "acme", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Zero(t, total)
}

func TestRunSummarizeModelFailureSettlesError(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, llm.SummarizerFunc(func(context.Context, llm.Request) (string, error) {
		return "", llm.ErrRateLimited
	}), nil)

	require.Error(t, e.worker.runSummarize(ctx, summarizeEnvelope()))

	entries, err := e.store.Read(ctx, progress.PrefixSummarize+"task-2")
	require.NoError(t, err)
	assert.Equal(t, progress.StatusError, entries[len(entries)-1].Status)
}
