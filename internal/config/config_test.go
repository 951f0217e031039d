package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConcurrency != 10 {
		t.Fatalf("expected default MaxConcurrency 10, got %d", cfg.MaxConcurrency)
	}
	if cfg.MaxQueueSize != 1000 {
		t.Fatalf("expected default MaxQueueSize 1000, got %d", cfg.MaxQueueSize)
	}
	if cfg.TimeoutLogin != 45*time.Second {
		t.Fatalf("expected default login timeout 45s, got %s", cfg.TimeoutLogin)
	}
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConcurrency != 10 {
		t.Fatal("expected defaults when the overlay file is absent")
	}
}

func TestLoad_YAMLOverlayThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "gateway.yaml")
	content := "max_concurrency: 25\nhttp_addr: \":9000\"\n"
	if err := os.WriteFile(yamlPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MAX_CONCURRENCY", "99")

	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConcurrency != 99 {
		t.Fatalf("expected env override 99 to win over YAML's 25, got %d", cfg.MaxConcurrency)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("expected YAML-only field to survive, got %q", cfg.HTTPAddr)
	}
}

func TestDispatchOpTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	timeouts := cfg.DispatchOpTimeouts()
	if timeouts["login"] != cfg.TimeoutLogin {
		t.Fatal("expected login timeout to be projected")
	}
	if timeouts[""] != cfg.TimeoutDefault {
		t.Fatal("expected default timeout to be projected under the empty key")
	}
}
