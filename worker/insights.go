package worker

import (
	"context"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/openplane/warehub/progress"
	"github.com/openplane/warehub/tasks"
	"github.com/openplane/warehub/warehouse"
)

// topValuesLimit bounds the number of most-frequent values reported per
// column.
const topValuesLimit = 5

// runInsight computes the column statistics for an insight task. Each metric
// is one sub-query; a progress entry is appended after each one so pollers
// watch the results accumulate. A failed metric is recorded in place and the
// remaining metrics still run: partial insight results are useful. Only a
// failure to reach the warehouse at all terminates with ERROR.
func (w *Worker) runInsight(ctx context.Context, env tasks.Envelope) error {
	tracker, err := progress.NewTracker(w.store, progress.PrefixInsights, env.TaskID, w.progressTTL)
	if err != nil {
		return err
	}
	req := env.Insight
	if req == nil {
		w.fail(ctx, tracker, "task is missing its insight descriptor")
		return fmt.Errorf("envelope %s has no insight payload", env.TaskID)
	}

	client, err := w.warehouses.Open(ctx, env.Org)
	if err != nil {
		w.fail(ctx, tracker, fmt.Sprintf("could not reach the warehouse: %v", err))
		return fmt.Errorf("open warehouse for %s: %w", env.Org, err)
	}
	defer func() {
		if err := client.Close(ctx); err != nil {
			log.Errorf(ctx, err, "close warehouse client")
		}
	}()

	numeric, err := isNumericColumn(ctx, client, req.Schema, req.Table, req.Column)
	if err != nil {
		w.fail(ctx, tracker, fmt.Sprintf("could not inspect column %s: %v", req.Column, err))
		return fmt.Errorf("inspect column %s.%s.%s: %w", req.Schema, req.Table, req.Column, err)
	}

	var metrics []warehouse.Metric
	for _, computer := range metricComputers(req, numeric) {
		metric := computer.run(ctx, client)
		metrics = append(metrics, metric)
		results, err := progress.MarshalResults(metrics)
		if err != nil {
			return err
		}
		entry := progress.Entry{
			Message: fmt.Sprintf("computed %s", metric.Name),
			Status:  progress.StatusFetching,
			Results: results,
		}
		if err := tracker.Add(ctx, entry); err != nil {
			return err
		}
	}

	results, err := progress.MarshalResults(metrics)
	if err != nil {
		return err
	}
	return tracker.Add(ctx, progress.Entry{
		Message: fmt.Sprintf("insights for %s.%s.%s", req.Schema, req.Table, req.Column),
		Status:  progress.StatusSuccess,
		Results: results,
	})
}

type metricComputer struct {
	name string
	sql  string
	// extract pulls the metric value out of the single result row.
	extract func(rows []warehouse.Row) (any, error)
}

func (c metricComputer) run(ctx context.Context, client warehouse.Client) warehouse.Metric {
	rows, err := client.Query(ctx, c.sql)
	if err != nil {
		return warehouse.Metric{Name: c.name, Err: err.Error()}
	}
	value, err := c.extract(rows)
	if err != nil {
		return warehouse.Metric{Name: c.name, Err: err.Error()}
	}
	return warehouse.Metric{Name: c.name, Value: value}
}

// metricComputers returns the sub-queries for a column's statistics. Numeric
// columns additionally get min, max and avg.
func metricComputers(req *tasks.InsightRequest, numeric bool) []metricComputer {
	table := quoteIdent(req.Schema) + "." + quoteIdent(req.Table)
	col := quoteIdent(req.Column)

	computers := []metricComputer{
		{
			name:    "row_count",
			sql:     fmt.Sprintf("SELECT COUNT(*) AS value FROM %s", table),
			extract: singleValue("value"),
		},
		{
			name:    "null_count",
			sql:     fmt.Sprintf("SELECT COUNT(*) AS value FROM %s WHERE %s IS NULL", table, col),
			extract: singleValue("value"),
		},
		{
			name:    "distinct_count",
			sql:     fmt.Sprintf("SELECT COUNT(DISTINCT %s) AS value FROM %s", col, table),
			extract: singleValue("value"),
		},
	}
	if numeric {
		computers = append(computers,
			metricComputer{
				name:    "min",
				sql:     fmt.Sprintf("SELECT MIN(%s) AS value FROM %s", col, table),
				extract: singleValue("value"),
			},
			metricComputer{
				name:    "max",
				sql:     fmt.Sprintf("SELECT MAX(%s) AS value FROM %s", col, table),
				extract: singleValue("value"),
			},
			metricComputer{
				name:    "avg",
				sql:     fmt.Sprintf("SELECT AVG(%s) AS value FROM %s", col, table),
				extract: singleValue("value"),
			},
		)
	}
	computers = append(computers, metricComputer{
		name: "top_values",
		sql: fmt.Sprintf(
			"SELECT %s AS value, COUNT(*) AS frequency FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY frequency DESC LIMIT %d",
			col, table, col, col, topValuesLimit),
		extract: func(rows []warehouse.Row) (any, error) {
			out := make([]warehouse.Row, len(rows))
			for i, row := range rows {
				out[i] = warehouse.NormalizeRow(row)
			}
			return out, nil
		},
	})
	return computers
}

func singleValue(column string) func(rows []warehouse.Row) (any, error) {
	return func(rows []warehouse.Row) (any, error) {
		if len(rows) == 0 {
			return nil, fmt.Errorf("query returned no rows")
		}
		value, ok := rows[0][column]
		if !ok {
			return nil, fmt.Errorf("query returned no %q column", column)
		}
		return warehouse.NormalizeValue(value), nil
	}
}

func isNumericColumn(ctx context.Context, client warehouse.Client, schema, table, column string) (bool, error) {
	cols, err := client.GetTableColumns(ctx, schema, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name != column {
			continue
		}
		t := strings.ToLower(c.Type)
		for _, marker := range []string{"int", "numeric", "decimal", "float", "double", "real", "number"} {
			if strings.Contains(t, marker) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("column %q not found in %s.%s", column, schema, table)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
