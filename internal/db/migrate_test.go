package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestMigrationNamesAreOrderedUpFiles(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames returned error: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	if names[0] != "0001_create_processed_files.up.sql" {
		t.Fatalf("unexpected first migration %q", names[0])
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			t.Fatalf("unexpected non-up migration %q", name)
		}
	}
}

func TestTrackingMigrationDeclaresPrimaryKey(t *testing.T) {
	body, err := migrationFS.ReadFile("migrations/0001_create_processed_files.up.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	sql := string(body)
	for _, fragment := range []string{
		"CREATE TABLE IF NOT EXISTS processed_files",
		"file_name VARCHAR PRIMARY KEY",
		"processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
	} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("migration missing %q:\n%s", fragment, sql)
		}
	}
}

func TestConfigDSNRoundTrips(t *testing.T) {
	// Keep an ambient libpq environment from filling in an empty password.
	t.Setenv("PGPASSWORD", "")
	if err := os.Unsetenv("PGPASSWORD"); err != nil {
		t.Fatalf("unset PGPASSWORD: %v", err)
	}
	t.Setenv("PGPASSFILE", filepath.Join(t.TempDir(), "pgpass"))

	cases := []struct {
		name     string
		password string
		dbName   string
	}{
		{name: "empty password", password: "", dbName: "nyc_taxi"},
		{name: "password with space", password: "my secret", dbName: "nyc_taxi"},
		{name: "password with quotes and separators", password: `it's@a:/pw\`, dbName: "nyc_taxi"},
		{name: "database with space", password: "pw", dbName: "trip data"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Host = "db.internal"
			cfg.Port = 6543
			cfg.User = "etl"
			cfg.Password = tc.password
			cfg.DBName = tc.dbName

			parsed, err := pgxpool.ParseConfig(cfg.DSN())
			if err != nil {
				t.Fatalf("failed to parse %q: %v", cfg.DSN(), err)
			}
			conn := parsed.ConnConfig
			if conn.Host != "db.internal" || conn.Port != 6543 {
				t.Fatalf("unexpected host %s:%d", conn.Host, conn.Port)
			}
			if conn.User != "etl" {
				t.Fatalf("unexpected user %q", conn.User)
			}
			if conn.Password != tc.password {
				t.Fatalf("expected password %q, got %q", tc.password, conn.Password)
			}
			if conn.Database != tc.dbName {
				t.Fatalf("expected database %q, got %q", tc.dbName, conn.Database)
			}
			if conn.TLSConfig != nil {
				t.Fatalf("expected sslmode=disable to turn TLS off")
			}
		})
	}
}
