package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplane/warehub/org"
	"github.com/openplane/warehub/org/inmem"
)

func TestUpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	reg := org.Warehouse{Org: "acme", Type: org.WarehousePostgres, Name: "main", DSN: "dsn-1"}
	require.NoError(t, store.Upsert(ctx, reg))

	got, err := store.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, org.WarehousePostgres, got.Type)
	assert.Equal(t, "dsn-1", got.DSN)
	assert.False(t, got.CreatedAt.IsZero())

	// Re-registering replaces the connection but keeps the creation time.
	reg.DSN = "dsn-2"
	require.NoError(t, store.Upsert(ctx, reg))
	updated, err := store.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "dsn-2", updated.DSN)
	assert.Equal(t, got.CreatedAt, updated.CreatedAt)
}

func TestLookupMissing(t *testing.T) {
	_, err := inmem.New().Lookup(context.Background(), "ghost")
	require.ErrorIs(t, err, org.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	require.NoError(t, store.Upsert(ctx, org.Warehouse{Org: "acme", Type: org.WarehousePostgres, Name: "main", DSN: "dsn"}))

	require.NoError(t, store.Delete(ctx, "acme"))
	_, err := store.Lookup(ctx, "acme")
	require.ErrorIs(t, err, org.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "acme"))
}
