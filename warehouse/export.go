package warehouse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"goa.design/clue/log"
)

// DefaultExportPageSize is the page size used when ExportCSVOptions does not
// set one. Large pages keep round trips low while bounding per-page memory.
const DefaultExportPageSize = 30000

// ExportCSVOptions configures a table export.
type ExportCSVOptions struct {
	// PageSize is the number of rows fetched per warehouse round trip.
	PageSize int
	// OrderBy optionally fixes the row order; empty means engine order.
	OrderBy string
	// Ascending applies to OrderBy when set.
	Ascending bool
}

// ExportCSV streams an entire table to w as CSV, page by page, writing the
// header once. Column order is taken from the table definition so every row
// serializes consistently; pages are fetched until the warehouse returns an
// empty one.
func ExportCSV(ctx context.Context, client Client, schema, table string, w io.Writer, opts ExportCSVOptions) error {
	if client == nil {
		return errors.New("client is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultExportPageSize
	}

	columns, err := client.GetTableColumns(ctx, schema, table)
	if err != nil {
		return fmt.Errorf("get columns for %s.%s: %w", schema, table, err)
	}
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.Name
	}
	if len(header) == 0 {
		return fmt.Errorf("table %s.%s has no columns", schema, table)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for page := 0; ; page++ {
		rows, err := client.GetTableData(ctx, schema, table, pageSize, page, opts.OrderBy, opts.Ascending)
		if err != nil {
			return fmt.Errorf("fetch page %d of %s.%s: %w", page, schema, table, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			record := make([]string, len(header))
			normalized := NormalizeRow(row)
			for i, name := range header {
				record[i] = stringifyCell(normalized[name])
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
		log.Debugf(ctx, "exported page %d of %s.%s (%d rows)", page, schema, table, len(rows))
		if len(rows) < pageSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

// stringifyCell renders a normalized value for CSV output.
func stringifyCell(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
