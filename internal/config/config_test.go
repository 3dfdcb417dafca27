// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

agents:
  stale_after: "5m"
  liveness_interval: "30s"

ingest:
  queue_capacity: 5000
  chunk_size: 50
  retention_days: 14
  flush_interval: "2s"
  chunk_pause: "25ms"
  cleanup_interval: "30m"

limits:
  admission_limit: 50
  admission_window: "30s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Agents.StaleAfter != 5*time.Minute {
		t.Errorf("Agents.StaleAfter = %v, want 5m", cfg.Agents.StaleAfter)
	}
	if cfg.Agents.LivenessInterval != 30*time.Second {
		t.Errorf("Agents.LivenessInterval = %v, want 30s", cfg.Agents.LivenessInterval)
	}
	if cfg.Ingest.QueueCapacity != 5000 {
		t.Errorf("Ingest.QueueCapacity = %d, want 5000", cfg.Ingest.QueueCapacity)
	}
	if cfg.Ingest.ChunkSize != 50 {
		t.Errorf("Ingest.ChunkSize = %d, want 50", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.RetentionDays != 14 {
		t.Errorf("Ingest.RetentionDays = %d, want 14", cfg.Ingest.RetentionDays)
	}
	if cfg.Ingest.FlushInterval != 2*time.Second {
		t.Errorf("Ingest.FlushInterval = %v, want 2s", cfg.Ingest.FlushInterval)
	}
	if cfg.Ingest.ChunkPause != 25*time.Millisecond {
		t.Errorf("Ingest.ChunkPause = %v, want 25ms", cfg.Ingest.ChunkPause)
	}
	if cfg.Limits.AdmissionLimit != 50 {
		t.Errorf("Limits.AdmissionLimit = %d, want 50", cfg.Limits.AdmissionLimit)
	}
	if cfg.Limits.AdmissionWindow != 30*time.Second {
		t.Errorf("Limits.AdmissionWindow = %v, want 30s", cfg.Limits.AdmissionWindow)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "localhost:8080" {
		t.Errorf("Server.HTTPAddr = %q, want default localhost:8080", cfg.Server.HTTPAddr)
	}
	if cfg.Agents.StaleAfter != 5*time.Minute {
		t.Errorf("Agents.StaleAfter = %v, want default 5m", cfg.Agents.StaleAfter)
	}
	if cfg.Agents.LivenessInterval != 30*time.Second {
		t.Errorf("Agents.LivenessInterval = %v, want default 30s", cfg.Agents.LivenessInterval)
	}
	if cfg.Ingest.QueueCapacity != 10000 {
		t.Errorf("Ingest.QueueCapacity = %d, want default 10000", cfg.Ingest.QueueCapacity)
	}
	if cfg.Ingest.RetentionDays != 30 {
		t.Errorf("Ingest.RetentionDays = %d, want default 30", cfg.Ingest.RetentionDays)
	}
	if cfg.Limits.AdmissionLimit != 100 {
		t.Errorf("Limits.AdmissionLimit = %d, want default 100", cfg.Limits.AdmissionLimit)
	}
	if cfg.Limits.AdmissionWindow != 60*time.Second {
		t.Errorf("Limits.AdmissionWindow = %v, want default 60s", cfg.Limits.AdmissionWindow)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default info", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PULSE_TEST_DB_PATH", "/tmp/pulse-test.db")

	configPath := writeConfig(t, `
database:
  path: "${PULSE_TEST_DB_PATH}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/pulse-test.db" {
		t.Errorf("Database.Path = %q, want expanded env value", cfg.Database.Path)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
agents:
  stale_after: "five minutes"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "stale_after") {
		t.Errorf("error %q should name the offending field", err)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
logging:
  level: "verbose"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("error %q should name logging.level", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config should validate, got %v", err)
	}
	if cfg.Database.Path == "" {
		t.Error("Default() should set a database path")
	}
}
