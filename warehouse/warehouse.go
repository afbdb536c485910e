// Package warehouse defines the client contract for connected data
// warehouses and the record normalization applied at the driver boundary.
// Engine-specific drivers live in subpackages (warehouse/postgres); callers
// obtain clients through a Factory keyed by the organization's registration.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openplane/warehub/org"
)

type (
	// Column describes one table column.
	Column struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Nullable bool   `json:"nullable"`
	}

	// Row is one normalized result row. Values are restricted to JSON-safe
	// standard types; see NormalizeValue.
	Row map[string]any

	// Metric is one computed insight over a table column. A failed metric
	// carries Err instead of Value; partial results are first-class.
	Metric struct {
		Name  string `json:"name"`
		Value any    `json:"value,omitempty"`
		Err   string `json:"error,omitempty"`
	}

	// Client is the synchronous warehouse access contract. Every method may
	// fail with a connector-specific error which callers surface as a generic
	// internal failure.
	Client interface {
		GetSchemas(ctx context.Context) ([]string, error)
		GetTables(ctx context.Context, schema string) ([]string, error)
		GetTableColumns(ctx context.Context, schema, table string) ([]Column, error)
		// GetTableData returns one page of rows. Pages are zero-based; orderBy
		// may be empty for engine order.
		GetTableData(ctx context.Context, schema, table string, limit, page int, orderBy string, ascending bool) ([]Row, error)
		GetTotalRows(ctx context.Context, schema, table string) (int64, error)
		// Query executes a pre-validated read-only statement.
		Query(ctx context.Context, sql string) ([]Row, error)
		Close(ctx context.Context) error
	}

	// Opener connects to a warehouse described by a registration.
	Opener interface {
		Open(ctx context.Context, w org.Warehouse) (Client, error)
	}

	// OpenerFunc adapts a function to the Opener interface.
	OpenerFunc func(ctx context.Context, w org.Warehouse) (Client, error)
)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, w org.Warehouse) (Client, error) {
	return f(ctx, w)
}

// ErrUnsupported is returned when no opener is registered for a warehouse type.
var ErrUnsupported = errors.New("unsupported warehouse type")

// ErrNotConfigured is returned when an organization has no warehouse set up.
var ErrNotConfigured = errors.New("no warehouse configured for organization")

// Factory routes registrations to engine-specific openers.
type Factory struct {
	mu      sync.RWMutex
	openers map[org.WarehouseType]Opener
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{openers: make(map[org.WarehouseType]Opener)}
}

// Register installs the opener for a warehouse type, replacing any previous one.
func (f *Factory) Register(t org.WarehouseType, o Opener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openers[t] = o
}

// Open connects to the warehouse described by the registration.
func (f *Factory) Open(ctx context.Context, w org.Warehouse) (Client, error) {
	f.mu.RLock()
	opener, ok := f.openers[w.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, w.Type)
	}
	return opener.Open(ctx, w)
}

// NormalizeValue converts a driver value into a JSON-safe standard type:
// timestamps become RFC 3339 strings, byte slices become strings, and nested
// lists/maps are JSON-encoded to strings so rows stay flat for tabular
// consumers.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []byte:
		return string(val)
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	default:
		return val
	}
}

// NormalizeRow applies NormalizeValue to every value in the row.
func NormalizeRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = NormalizeValue(v)
	}
	return out
}
