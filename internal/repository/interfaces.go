package repository

import (
	"context"

	"github.com/rpattn/tripload/internal/domain"

	"github.com/jackc/pgx/v5"
)

// ProcessedFileRepository is the idempotency ledger of loaded source files.
type ProcessedFileRepository interface {
	// EnsureTable creates the schema and tracking table if absent.
	EnsureTable(ctx context.Context) error
	IsProcessed(ctx context.Context, fileName string) (bool, error)
	// MarkProcessed inserts fileName and reports whether this call created the row.
	// An existing row is left untouched.
	MarkProcessed(ctx context.Context, fileName string) (bool, error)
	List(ctx context.Context, limit int, offset int) ([]domain.ProcessedFile, error)
}

// TripRepository owns the destination table of trip rows.
type TripRepository interface {
	EnsureTable(ctx context.Context, table string) error
	BulkInsert(ctx context.Context, table string, columns []string, rows pgx.CopyFromSource) (int64, error)
	Count(ctx context.Context, table string) (int64, error)
}

// Store groups the repositories of one schema and scopes them to transactions.
type Store interface {
	ProcessedFiles() ProcessedFileRepository
	Trips() TripRepository
	// Schema is the schema the repositories read and write.
	Schema() string
	// WithSchema returns a Store on the same connection bound to schema.
	WithSchema(schema string) Store
	// InTx runs fn with repositories bound to a single transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}
