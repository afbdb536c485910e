// Package org models organizations and their warehouse registrations. Each
// organization connects at most one data warehouse; the submission gateway
// and the browsing service look the registration up before doing any
// warehouse-bound work.
package org

import (
	"context"
	"errors"
	"time"
)

// WarehouseType identifies the warehouse engine behind a registration.
type WarehouseType string

const (
	// WarehousePostgres is a PostgreSQL-compatible warehouse.
	WarehousePostgres WarehouseType = "postgres"
	// WarehouseBigQuery is a Google BigQuery warehouse.
	WarehouseBigQuery WarehouseType = "bigquery"
	// WarehouseSnowflake is a Snowflake warehouse.
	WarehouseSnowflake WarehouseType = "snowflake"
)

// Warehouse is one organization's warehouse registration. DSN references the
// connection credentials; resolving it against a secrets backend is the
// deployment's concern.
type Warehouse struct {
	Org       string
	Type      WarehouseType
	Name      string
	DSN       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrNotFound is returned when an organization has no warehouse registration.
var ErrNotFound = errors.New("warehouse registration not found")

// Store persists warehouse registrations keyed by organization.
type Store interface {
	// Upsert creates or replaces the organization's registration.
	Upsert(ctx context.Context, w Warehouse) error
	// Lookup returns the organization's registration or ErrNotFound.
	Lookup(ctx context.Context, org string) (Warehouse, error)
	// Delete removes the organization's registration. Deleting a missing
	// registration is not an error.
	Delete(ctx context.Context, org string) error
}
