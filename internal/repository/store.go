package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/tripload/internal/db"

	"github.com/jackc/pgx/v5"
)

type pgStore struct {
	conn   *db.Connection
	q      db.Querier
	schema string
	config db.Config
}

// NewStore wires the repositories of schema to a pgxpool-backed connection.
func NewStore(conn *db.Connection, config db.Config, schema string) Store {
	return &pgStore{
		conn:   conn,
		q:      conn.Pool,
		schema: schema,
		config: config,
	}
}

func (s *pgStore) ProcessedFiles() ProcessedFileRepository {
	repo := &processedFileRepository{q: s.q, schema: s.schema}
	if s.conn != nil {
		repo.migrate = func(ctx context.Context) error {
			return db.RunMigrations(ctx, s.config, s.schema)
		}
	}
	return repo
}

func (s *pgStore) Trips() TripRepository {
	return &tripRepository{q: s.q, schema: s.schema}
}

func (s *pgStore) Schema() string {
	return s.schema
}

func (s *pgStore) WithSchema(schema string) Store {
	scoped := *s
	scoped.schema = schema
	return &scoped
}

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.conn == nil {
		return fmt.Errorf("nested transactions are not supported")
	}
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgStore{q: tx, schema: s.schema, config: s.config})
	})
}
