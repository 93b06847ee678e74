package config

import (
	"os"
	"path/filepath"
	"testing"
)

// clearEnv blanks the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "TASKTREE_STORE", "DATABASE_URL", "TASKTREE_SQLITE_PATH"} {
		t.Setenv(k, "")
	}
}

// TestLoadDefaults verifies the built-in configuration when no file or
// environment is present.
func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(\"\") = %+v, want defaults %+v", cfg, Default())
	}
}

// TestLoadFile verifies that YAML fields override defaults and that
// unset fields keep their default values.
func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: \":9090\"\nstore: sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Store != StoreSQLite {
		t.Errorf("Listen=%q Store=%q, want :9090/sqlite", cfg.Listen, cfg.Store)
	}
	if cfg.SQLitePath != Default().SQLitePath {
		t.Errorf("SQLitePath = %q, want default %q", cfg.SQLitePath, Default().SQLitePath)
	}
}

// TestLoadMissingFileTolerated verifies a nonexistent path falls back
// to defaults rather than failing.
func TestLoadMissingFileTolerated(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(absent) = %+v, want defaults", cfg)
	}
}

// TestLoadEnvOverrides verifies the environment wins over the file.
func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: \":9090\"\nstore: postgres\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")
	t.Setenv("TASKTREE_STORE", "memory")
	t.Setenv("DATABASE_URL", "postgres://example/db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want :7000", cfg.Listen)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.DatabaseURL != "postgres://example/db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

// TestLoadRejectsUnknownStore verifies backend name validation.
func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("TASKTREE_STORE", "redis")
	if _, err := Load(""); err == nil {
		t.Fatal("Load accepted unknown store backend")
	}
}

// TestLoadBadYAML verifies a parse failure is reported.
func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}
