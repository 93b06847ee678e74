// Package config loads server configuration from an optional YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store backend names accepted in Config.Store.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config is the server configuration.
type Config struct {
	Listen      string `yaml:"listen"`       // address for the HTTP API
	Store       string `yaml:"store"`        // postgres, sqlite, or memory
	DatabaseURL string `yaml:"database_url"` // postgres only
	SQLitePath  string `yaml:"sqlite_path"`  // sqlite only
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:      ":8080",
		Store:       StorePostgres,
		DatabaseURL: "postgres://localhost:5432/tasktree",
		SQLitePath:  "tasktree.db",
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies PORT, TASKTREE_STORE, DATABASE_URL, and TASKTREE_SQLITE_PATH
// from the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Listen = ":" + port
	}
	if store := os.Getenv("TASKTREE_STORE"); store != "" {
		cfg.Store = store
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if p := os.Getenv("TASKTREE_SQLITE_PATH"); p != "" {
		cfg.SQLitePath = p
	}

	switch cfg.Store {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return cfg, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	return cfg, nil
}
