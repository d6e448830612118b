package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"HOST", "PORT", "DB", "DB_USER", "DB_PW", "DB_SSLMODE", "LOG_LEVEL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, cfg.Source)
	require.Equal(t, "localhost", cfg.DB.Host)
	require.Equal(t, 5432, cfg.DB.Port)
	require.Equal(t, "postgres", cfg.DB.DBName)
	require.Equal(t, "disable", cfg.DB.SSLMode)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := "HOST=db.internal\nPORT=6543\nDB=warehouse\nDB_USER=loader\nDB_PW=s3cret\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ".env"), cfg.Source)
	require.Equal(t, "db.internal", cfg.DB.Host)
	require.Equal(t, 6543, cfg.DB.Port)
	require.Equal(t, "warehouse", cfg.DB.DBName)
	require.Equal(t, "loader", cfg.DB.User)
	require.Equal(t, "s3cret", cfg.DB.Password)
	require.Equal(t, "disable", cfg.DB.SSLMode)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HOST=from-file\nDB_PW=file-pw\n"), 0o600))
	t.Setenv("HOST", "from-env")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.DB.Host)
	require.Equal(t, "file-pw", cfg.DB.Password)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "postgres")

	_, err := Load(t.TempDir())
	require.Error(t, err)
}
