package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationsTable records applied tracking-table migrations, one per schema.
const MigrationsTable = "tripload_schema_migrations"

// EnsureSchema creates the schema if it does not exist yet.
func EnsureSchema(ctx context.Context, q Querier, schema string) error {
	if _, err := q.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// RunMigrations applies the embedded migrations inside schema. The schema is
// put first on the search_path so unqualified table names land in it.
func RunMigrations(ctx context.Context, config Config, schema string) error {
	connConfig, err := pgx.ParseConfig(config.DSN())
	if err != nil {
		return fmt.Errorf("failed to parse database config: %w", err)
	}
	connConfig.RuntimeParams["search_path"] = schema

	sqlDB := stdlib.OpenDB(*connConfig)
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database for migrations: %w", err)
	}

	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{
		MigrationsTable: MigrationsTable,
		SchemaName:      schema,
	})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations in schema %s: %w", schema, err)
	}

	return nil
}

// migrationNames lists the embedded up-migrations in apply order.
func migrationNames() ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
