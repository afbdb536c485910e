// Package postgres implements the warehouse client contract for
// PostgreSQL-compatible warehouses on top of pgx connection pools.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openplane/warehub/org"
	"github.com/openplane/warehub/warehouse"
)

// Opener connects to Postgres warehouses from their registration DSN.
type Opener struct{}

var _ warehouse.Opener = Opener{}

// Open implements warehouse.Opener.
func (Opener) Open(ctx context.Context, w org.Warehouse) (warehouse.Client, error) {
	if w.DSN == "" {
		return nil, errors.New("warehouse dsn is required")
	}
	pool, err := pgxpool.New(ctx, w.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres warehouse: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres warehouse: %w", err)
	}
	return &client{pool: pool}, nil
}

type client struct {
	pool *pgxpool.Pool
}

func (c *client) GetSchemas(ctx context.Context) ([]string, error) {
	const query = `
SELECT schema_name FROM information_schema.schemata
WHERE schema_name NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
ORDER BY schema_name`
	return c.queryStrings(ctx, query)
}

func (c *client) GetTables(ctx context.Context, schema string) ([]string, error) {
	const query = `
SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`
	return c.queryStrings(ctx, query, schema)
}

func (c *client) GetTableColumns(ctx context.Context, schema, table string) ([]warehouse.Column, error) {
	const query = `
SELECT column_name, data_type, is_nullable FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
	rows, err := c.pool.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()
	var out []warehouse.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		out = append(out, warehouse.Column{
			Name:     name,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return out, rows.Err()
}

func (c *client) GetTableData(ctx context.Context, schema, table string, limit, page int, orderBy string, ascending bool) ([]warehouse.Row, error) {
	if limit <= 0 {
		limit = 10
	}
	if page < 0 {
		page = 0
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s.%s", quoteIdent(schema), quoteIdent(table))
	if orderBy != "" {
		direction := "DESC"
		if ascending {
			direction = "ASC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", quoteIdent(orderBy), direction)
	}
	fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", limit, limit*page)
	return c.Query(ctx, sb.String())
}

func (c *client) GetTotalRows(ctx context.Context, schema, table string) (int64, error) {
	query := fmt.Sprintf("SELECT count(*) FROM %s.%s", quoteIdent(schema), quoteIdent(table))
	var total int64
	if err := c.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("count rows of %s.%s: %w", schema, table, err)
	}
	return total, nil
}

// Query executes a pre-validated statement and decodes every row generically
// using the result's field descriptions.
func (c *client) Query(ctx context.Context, sql string) ([]warehouse.Row, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []warehouse.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(warehouse.Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *client) Close(context.Context) error {
	c.pool.Close()
	return nil
}

func (c *client) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan string row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// quoteIdent double-quotes an identifier, escaping embedded quotes, so user
// supplied schema/table/column names cannot terminate the identifier.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
