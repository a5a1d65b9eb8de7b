package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPORT_VIEWER_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":50051" || cfg.Server.HTTPAddress != ":8080" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Backend.ReportPath != "/api/sites/{siteId}/diagnostic-report" {
		t.Fatalf("unexpected report path %q", cfg.Backend.ReportPath)
	}
	if cfg.Notifications.BufferSize != 50 {
		t.Fatalf("expected notification buffer 50, got %d", cfg.Notifications.BufferSize)
	}
	if cfg.Sessions.IdleTTL != 30*time.Minute {
		t.Fatalf("expected 30m session idle ttl, got %s", cfg.Sessions.IdleTTL)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  httpAddress: ":9090"
backend:
  baseURL: "http://dashboard:3000"
  timeout: 12s
cache:
  reportTTL: 30s
sessions:
  idleTTL: 10m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("REPORT_VIEWER_LOG_FORMAT", "json")
	t.Setenv("REPORT_VIEWER_CACHE_ENABLED", "false")
	t.Setenv("REPORT_VIEWER_BACKEND_URL", "http://override:3000")
	t.Setenv("REPORT_VIEWER_SESSION_IDLE_TTL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9090" {
		t.Fatalf("expected http address from file, got %q", cfg.Server.HTTPAddress)
	}
	if cfg.Server.Address != ":50051" {
		t.Fatalf("expected default grpc address to survive, got %q", cfg.Server.Address)
	}
	if cfg.Backend.BaseURL != "http://override:3000" {
		t.Fatalf("expected env override for base URL, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 12*time.Second {
		t.Fatalf("expected 12s timeout, got %s", cfg.Backend.Timeout)
	}
	if cfg.Cache.ReportTTL != 30*time.Second || cfg.Cache.Enabled {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
	if cfg.Sessions.IdleTTL != 10*time.Minute {
		t.Fatalf("expected session idle ttl from file, got %s", cfg.Sessions.IdleTTL)
	}

	t.Setenv("REPORT_VIEWER_SESSION_IDLE_TTL", "90s")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Sessions.IdleTTL != 90*time.Second {
		t.Fatalf("expected env override for session idle ttl, got %s", cfg.Sessions.IdleTTL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("notifications:\n  bufferSize: -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsNegativeSessionTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sessions:\n  idleTTL: -1m\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
