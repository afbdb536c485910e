package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/openplane/warehub/llm"
	"github.com/openplane/warehub/progress"
	"github.com/openplane/warehub/session"
	"github.com/openplane/warehub/tasks"
	"github.com/openplane/warehub/warehouse"
)

// summarizeResult is the terminal result record of a summarization task. The
// session identifier lets the client save or attach feedback to the session
// after polling the answer.
type summarizeResult struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

// runSummarize executes a summarization task: create the RUNNING session row,
// run the validated SQL, feed the normalized result set and the user's prompt
// to the model, and settle both the session row and the progress history.
// Every failure past session creation settles the session as ERROR with the
// diagnostic in place of a response; clients read failures from the same
// places they read answers.
func (w *Worker) runSummarize(ctx context.Context, env tasks.Envelope) error {
	tracker, err := progress.NewTracker(w.store, progress.PrefixSummarize, env.TaskID, w.progressTTL)
	if err != nil {
		return err
	}
	req := env.Summarize
	if req == nil {
		w.fail(ctx, tracker, "task is missing its summarization descriptor")
		return fmt.Errorf("envelope %s has no summarize payload", env.TaskID)
	}

	sess := session.Session{
		SessionID: uuid.NewString(),
		Org:       env.Org,
		TaskID:    env.TaskID,
		Type:      session.TypeSummarization,
		Status:    session.StatusRunning,
		RequestMeta: map[string]any{
			"sql":    req.SQL,
			"prompt": req.Prompt,
		},
		AssistantPrompt: llm.DefaultSystemPrompt,
	}
	if err := w.sessions.Create(ctx, sess); err != nil {
		w.fail(ctx, tracker, fmt.Sprintf("could not create session: %v", err))
		return fmt.Errorf("create session for %s: %w", env.TaskID, err)
	}
	ctx = log.With(ctx, log.KV{K: "session", V: sess.SessionID})

	response, err := w.summarize(ctx, env.Org, req)
	if err != nil {
		diagnostic := fmt.Sprintf("summarization failed: %v", err)
		if serr := w.sessions.SetResult(ctx, env.Org, sess.SessionID, session.StatusError, diagnostic); serr != nil {
			log.Errorf(ctx, serr, "settle session as error")
		}
		w.fail(ctx, tracker, diagnostic)
		return fmt.Errorf("summarize task %s: %w", env.TaskID, err)
	}

	if err := w.sessions.SetResult(ctx, env.Org, sess.SessionID, session.StatusComplete, response); err != nil {
		diagnostic := fmt.Sprintf("could not persist response: %v", err)
		w.fail(ctx, tracker, diagnostic)
		return fmt.Errorf("settle session %s: %w", sess.SessionID, err)
	}

	results, err := progress.MarshalResults([]summarizeResult{{
		SessionID: sess.SessionID,
		Response:  response,
	}})
	if err != nil {
		return err
	}
	return tracker.Add(ctx, progress.Entry{
		Message: "summarized query results",
		Status:  progress.StatusSuccess,
		Results: results,
	})
}

// summarize runs the SQL and asks the model about the result set.
func (w *Worker) summarize(ctx context.Context, orgName string, req *tasks.SummarizeRequest) (string, error) {
	client, err := w.warehouses.Open(ctx, orgName)
	if err != nil {
		return "", fmt.Errorf("open warehouse: %w", err)
	}
	defer func() {
		if err := client.Close(ctx); err != nil {
			log.Errorf(ctx, err, "close warehouse client")
		}
	}()

	rows, err := client.Query(ctx, req.SQL)
	if err != nil {
		return "", fmt.Errorf("execute query: %w", err)
	}
	records := make([]warehouse.Row, len(rows))
	for i, row := range rows {
		records[i] = warehouse.NormalizeRow(row)
	}

	response, err := w.summarizer.Summarize(ctx, llm.Request{
		Prompt:  req.Prompt,
		Records: records,
	})
	if err != nil {
		return "", fmt.Errorf("invoke model: %w", err)
	}
	return response, nil
}
