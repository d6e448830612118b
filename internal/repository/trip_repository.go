package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/tripload/internal/db"
	"github.com/rpattn/tripload/internal/domain"

	"github.com/jackc/pgx/v5"
)

type tripRepository struct {
	q      db.Querier
	schema string
}

func (r *tripRepository) EnsureTable(ctx context.Context, table string) error {
	if _, err := r.q.Exec(ctx, createTripTableSQL(r.schema, table)); err != nil {
		return dbError("create destination table", err)
	}
	return nil
}

// BulkInsert streams rows into the destination table with a single COPY statement.
func (r *tripRepository) BulkInsert(ctx context.Context, table string, columns []string, rows pgx.CopyFromSource) (int64, error) {
	if len(columns) == 0 {
		return 0, dbError("bulk insert", fmt.Errorf("no columns to insert into %s.%s", r.schema, table))
	}
	copied, err := r.q.CopyFrom(ctx, pgx.Identifier{r.schema, table}, columns, rows)
	if err != nil {
		return copied, dbError("bulk insert", err)
	}
	return copied, nil
}

func (r *tripRepository) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{r.schema, table}.Sanitize()).Scan(&count)
	if err != nil {
		return 0, dbError("count rows", err)
	}
	return count, nil
}

func createTripTableSQL(schema, table string) string {
	columns := domain.TripDestinationColumns()
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		defs = append(defs, fmt.Sprintf("    %s %s", pgx.Identifier{col.Name}.Sanitize(), col.Kind))
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n%s\n)",
		pgx.Identifier{schema, table}.Sanitize(),
		strings.Join(defs, ",\n"),
	)
}
