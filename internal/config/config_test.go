package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("EVENTFLOW_SERVER_PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %v, want 30s", cfg.Server.RequestTimeout)
	}
	if cfg.Queue.Path != "./data/queue" {
		t.Errorf("queue path = %v", cfg.Queue.Path)
	}
	if cfg.Store.Path != "./data/eventflow.db" {
		t.Errorf("store path = %v", cfg.Store.Path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("EVENTFLOW_SERVER_PORT", "9000")
	defer os.Unsetenv("EVENTFLOW_SERVER_PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %v, want 9000", cfg.Server.Port)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 7070
store:
  path: /var/lib/eventflow/chain.db
auth:
  keys:
    sdk-key-1: app-1
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %v, want 7070", cfg.Server.Port)
	}
	if cfg.Store.Path != "/var/lib/eventflow/chain.db" {
		t.Errorf("store path = %v", cfg.Store.Path)
	}
	if cfg.Auth.Keys["sdk-key-1"] != "app-1" {
		t.Errorf("auth keys = %v", cfg.Auth.Keys)
	}
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v, missing file should be ignored", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %v, want default 8080", cfg.Server.Port)
	}
}
