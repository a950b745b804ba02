// Package remote defines the narrow capability interface the sync core uses
// to talk to the authoritative store, plus its Postgres implementation.
package remote

import "context"

// Row is a single record as the remote store sees it: column names in
// snake_case, values already of driver-compatible types.
type Row map[string]any

// Filter is an equality predicate on a single column.
type Filter struct {
	Column string
	Value  any
}

// Store is the full capability surface the sync core depends on.
// Implementations must scope nothing implicitly: tenant isolation is the
// caller's responsibility via filters and row fields.
type Store interface {
	// Select returns all rows of table matching every filter, ordered by
	// orderBy (a raw column name; empty means store-default order).
	Select(ctx context.Context, table string, filters []Filter, orderBy string) ([]Row, error)

	// Insert writes a new row and returns the stored row, including
	// server-assigned columns (id, timestamps).
	Insert(ctx context.Context, table string, row Row) (Row, error)

	// Update applies changes to the row with the given id. Updating an id
	// that matches no row returns ErrNoRowsAffected, never a silent no-op.
	Update(ctx context.Context, table string, id any, changes Row) error

	// Delete removes the row with the given id. Deleting a missing id is
	// not an error; the end state is the same.
	Delete(ctx context.Context, table string, id any) error

	// Ping verifies the store is reachable. Used as the connectivity probe.
	Ping(ctx context.Context) error
}
