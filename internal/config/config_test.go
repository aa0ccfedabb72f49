package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plinth.yaml")

	content := `version: 1
metadata:
  connection_string: "mongodb://localhost:27017"
  database: plinth
storage:
  dsn: "postgres://plinth@localhost:5432/plinth"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Metadata.Database != "plinth" {
		t.Errorf("expected metadata database plinth, got %s", cfg.Metadata.Database)
	}
	if cfg.Storage.MaxConnections != 10 {
		t.Errorf("expected default max_connections 10, got %d", cfg.Storage.MaxConnections)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default server address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("expected default worker concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Retention.AuditDays != 90 {
		t.Errorf("expected default audit retention 90 days, got %d", cfg.Retention.AuditDays)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadInvalidVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plinth.yaml")

	content := `version: 99
storage:
  dsn: "postgres://localhost"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid version")
	}
}

func TestResolveEnvSecret(t *testing.T) {
	t.Setenv("TEST_SECRET", "mysecret")
	val, err := ResolveValue("${ENV:TEST_SECRET}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "mysecret" {
		t.Errorf("expected mysecret, got %s", val)
	}
}

func TestResolvePlainValue(t *testing.T) {
	val, err := ResolveValue("plaintext")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "plaintext" {
		t.Errorf("expected plaintext, got %s", val)
	}
}

func TestStorageDSNResolvedFromEnv(t *testing.T) {
	t.Setenv("PLINTH_TEST_DSN", "postgres://resolved@localhost:5432/plinth")

	dir := t.TempDir()
	path := filepath.Join(dir, "plinth.yaml")
	content := `version: 1
metadata:
  connection_string: "mongodb://localhost:27017"
  database: plinth
storage:
  dsn: "${ENV:PLINTH_TEST_DSN}"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DSN != "postgres://resolved@localhost:5432/plinth" {
		t.Errorf("dsn not resolved, got %s", cfg.Storage.DSN)
	}
}

func TestMaxConnectionsCapped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plinth.yaml")

	content := `version: 1
metadata:
  connection_string: "mongodb://localhost:27017"
  database: plinth
storage:
  dsn: "postgres://plinth@localhost:5432/plinth"
  max_connections: 100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.MaxConnections != 50 {
		t.Errorf("expected max_connections capped at 50, got %d", cfg.Storage.MaxConnections)
	}
}
