package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rpattn/tripload/internal/db"
	"github.com/spf13/viper"
)

// FileName is the dotenv file read from the config directory.
const FileName = ".env"

// Config is everything a run needs from the environment.
type Config struct {
	DB       db.Config
	LogLevel string
	// Source is the config file that was read, empty when none was found.
	Source string
}

// Load reads <dir>/.env and overlays the process environment. A missing file
// is not an error; defaults and environment variables are used instead.
func Load(dir string) (Config, error) {
	cfg := Config{DB: db.DefaultConfig(), LogLevel: "info"}

	v := viper.New()
	v.SetConfigType("env")
	v.SetDefault("host", cfg.DB.Host)
	v.SetDefault("port", strconv.Itoa(cfg.DB.Port))
	v.SetDefault("db", cfg.DB.DBName)
	v.SetDefault("db_user", cfg.DB.User)
	v.SetDefault("db_pw", cfg.DB.Password)
	v.SetDefault("db_sslmode", cfg.DB.SSLMode)
	v.SetDefault("log_level", cfg.LogLevel)

	for _, key := range []string{"host", "port", "db", "db_user", "db_pw", "db_sslmode", "log_level"} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return cfg, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read %s: %w", path, err)
		}
		cfg.Source = path
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	port, err := strconv.Atoi(strings.TrimSpace(v.GetString("port")))
	if err != nil || port <= 0 || port > 65535 {
		return cfg, fmt.Errorf("invalid PORT %q", v.GetString("port"))
	}

	cfg.DB = db.Config{
		Host:     v.GetString("host"),
		Port:     port,
		User:     v.GetString("db_user"),
		Password: v.GetString("db_pw"),
		DBName:   v.GetString("db"),
		SSLMode:  v.GetString("db_sslmode"),
	}
	cfg.LogLevel = v.GetString("log_level")

	return cfg, nil
}
