package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/tripload/internal/db"
	"github.com/rpattn/tripload/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// TrackingTable is the name of the tracking table inside the load schema.
const TrackingTable = "processed_files"

type processedFileRepository struct {
	q      db.Querier
	schema string
	// migrate bootstraps the tracking table; nil inside a transaction.
	migrate func(ctx context.Context) error
}

func (r *processedFileRepository) table() string {
	return pgx.Identifier{r.schema, TrackingTable}.Sanitize()
}

func (r *processedFileRepository) EnsureTable(ctx context.Context) error {
	if r.q == nil {
		return fmt.Errorf("processed file repository not initialized")
	}
	if err := db.EnsureSchema(ctx, r.q, r.schema); err != nil {
		return dbError("create schema", err)
	}
	if r.migrate == nil {
		return dbError("create tracking table", fmt.Errorf("migrations unavailable inside a transaction"))
	}
	return dbError("create tracking table", r.migrate(ctx))
}

func (r *processedFileRepository) IsProcessed(ctx context.Context, fileName string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM `+r.table()+` WHERE file_name = $1)`,
		fileName,
	).Scan(&exists)
	if err != nil {
		return false, dbError("lookup processed file", err)
	}
	return exists, nil
}

func (r *processedFileRepository) MarkProcessed(ctx context.Context, fileName string) (bool, error) {
	tag, err := r.q.Exec(
		ctx,
		`INSERT INTO `+r.table()+` (file_name)
		 VALUES ($1)
		 ON CONFLICT (file_name) DO NOTHING`,
		fileName,
	)
	if err != nil {
		return false, dbError("mark file processed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *processedFileRepository) List(ctx context.Context, limit int, offset int) ([]domain.ProcessedFile, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.q.Query(
		ctx,
		`SELECT file_name, processed_at
		 FROM `+r.table()+`
		 ORDER BY processed_at DESC, file_name
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, dbError("list processed files", err)
	}
	defer rows.Close()

	files := []domain.ProcessedFile{}
	for rows.Next() {
		var (
			entry       domain.ProcessedFile
			processedAt pgtype.Timestamp
		)
		if scanErr := rows.Scan(&entry.FileName, &processedAt); scanErr != nil {
			return nil, dbError("scan processed file", scanErr)
		}
		if processedAt.Valid {
			entry.ProcessedAt = processedAt.Time
		}
		files = append(files, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, dbError("iterate processed files", rowsErr)
	}

	return files, nil
}
