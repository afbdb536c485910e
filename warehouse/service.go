package warehouse

import (
	"context"
	"errors"
	"fmt"

	"goa.design/clue/log"

	"github.com/openplane/warehub/org"
)

// Service exposes warehouse browsing for organizations: schemas, tables,
// columns, paginated table data and row counts. It resolves the caller's
// registration, opens a client through the factory and normalizes everything
// at the boundary. Browsing is synchronous; long-running work goes through
// the task gateway instead.
type Service struct {
	orgs    org.Store
	factory *Factory
}

// NewService builds a browsing service.
func NewService(orgs org.Store, factory *Factory) (*Service, error) {
	if orgs == nil {
		return nil, errors.New("org store is required")
	}
	if factory == nil {
		return nil, errors.New("factory is required")
	}
	return &Service{orgs: orgs, factory: factory}, nil
}

// Open resolves the organization's registration and connects to its
// warehouse. Callers own the returned client and must close it.
func (s *Service) Open(ctx context.Context, o string) (Client, error) {
	w, err := s.orgs.Lookup(ctx, o)
	if err != nil {
		if errors.Is(err, org.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("lookup warehouse registration: %w", err)
	}
	client, err := s.factory.Open(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	return client, nil
}

// GetSchemas lists schema names in the organization's warehouse.
func (s *Service) GetSchemas(ctx context.Context, o string) ([]string, error) {
	client, err := s.Open(ctx, o)
	if err != nil {
		return nil, err
	}
	defer s.closeClient(ctx, client)
	return client.GetSchemas(ctx)
}

// GetTables lists table names in a schema.
func (s *Service) GetTables(ctx context.Context, o, schema string) ([]string, error) {
	client, err := s.Open(ctx, o)
	if err != nil {
		return nil, err
	}
	defer s.closeClient(ctx, client)
	return client.GetTables(ctx, schema)
}

// GetTableColumns lists the columns of a table.
func (s *Service) GetTableColumns(ctx context.Context, o, schema, table string) ([]Column, error) {
	client, err := s.Open(ctx, o)
	if err != nil {
		return nil, err
	}
	defer s.closeClient(ctx, client)
	return client.GetTableColumns(ctx, schema, table)
}

// GetTableData returns one normalized page of table rows.
func (s *Service) GetTableData(ctx context.Context, o, schema, table string, limit, page int, orderBy string, ascending bool) ([]Row, error) {
	client, err := s.Open(ctx, o)
	if err != nil {
		return nil, err
	}
	defer s.closeClient(ctx, client)
	rows, err := client.GetTableData(ctx, schema, table, limit, page, orderBy, ascending)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = NormalizeRow(row)
	}
	return out, nil
}

// GetTotalRows returns the table's total row count.
func (s *Service) GetTotalRows(ctx context.Context, o, schema, table string) (int64, error) {
	client, err := s.Open(ctx, o)
	if err != nil {
		return 0, err
	}
	defer s.closeClient(ctx, client)
	return client.GetTotalRows(ctx, schema, table)
}

func (s *Service) closeClient(ctx context.Context, client Client) {
	if err := client.Close(ctx); err != nil {
		log.Errorf(ctx, err, "close warehouse client")
	}
}
