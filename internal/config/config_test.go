package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
batch:
  max_concurrent: 1
  retry_delay: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Batch.MaxConcurrent != 1 {
		t.Errorf("max_concurrent = %d, want 1", cfg.Batch.MaxConcurrent)
	}
	if cfg.Batch.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry_delay = %s, want 250ms", cfg.Batch.RetryDelay)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_retryAttemptsZeroIsKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
batch:
  retry_attempts: 0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Batch.RetryAttemptsOrDefault(); got != 0 {
		t.Errorf("retry attempts = %d, want 0", got)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/history.db"
  index_path: "./data/history.bleve"
watch:
  directories: ["./inbox"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "history.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantIndex := filepath.Join(dir, "data", "history.bleve")
	if cfg.Storage.IndexPath != wantIndex {
		t.Errorf("index_path = %s, want %s", cfg.Storage.IndexPath, wantIndex)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	if want := filepath.Join(dir, "inbox"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], want)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"negative concurrency", "batch:\n  max_concurrent: -1\n", "max_concurrent"},
		{"negative retries", "batch:\n  retry_attempts: -2\n", "retry_attempts"},
		{"unknown fingerprint", "cache:\n  fingerprint: md5\n", "fingerprint"},
		{"confidence out of range", "ocr:\n  nominal_confidence: 1.5\n", "nominal_confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Batch.MaxConcurrent != 3 {
		t.Errorf("default max_concurrent: got %d", cfg.Batch.MaxConcurrent)
	}
	if cfg.Batch.RetryAttemptsOrDefault() != 2 {
		t.Errorf("default retry_attempts: got %d", cfg.Batch.RetryAttemptsOrDefault())
	}
	if cfg.Batch.RetryDelay != 5*time.Second {
		t.Errorf("default retry_delay: got %s", cfg.Batch.RetryDelay)
	}
	if cfg.Cache.Capacity != 50 || cfg.Cache.Fingerprint != FingerprintMetadata {
		t.Errorf("cache defaults: got %+v", cfg.Cache)
	}
	if !cfg.Cache.EnabledOrDefault() {
		t.Error("cache should be enabled by default")
	}
	if len(cfg.OCR.Languages) != 2 || cfg.OCR.Languages[0] != "spa" || cfg.OCR.Languages[1] != "eng" {
		t.Errorf("default languages: got %v", cfg.OCR.Languages)
	}
	if cfg.OCR.NominalConfidence != 0.85 {
		t.Errorf("default nominal confidence: got %v", cfg.OCR.NominalConfidence)
	}
	if !cfg.OCR.UseTextLayerOrDefault() {
		t.Error("text layer should be used by default")
	}
	if !*cfg.Compare.IgnoreCase || !*cfg.Compare.IgnoreWhitespace || cfg.Compare.ContextLines != 3 {
		t.Errorf("compare defaults: got %+v", cfg.Compare)
	}
	if len(cfg.Watch.Extensions) == 0 || cfg.Watch.Extensions[0] != ".pdf" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestCacheConfig_EnabledOrDefault(t *testing.T) {
	f := false
	c := &CacheConfig{Enabled: &f}
	if c.EnabledOrDefault() {
		t.Error("EnabledOrDefault() = true, want false")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db", IndexPath: "/tmp/index"},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Batch.RetryDelay != 5*time.Second {
		t.Errorf("loaded retry_delay: got %s", loaded.Batch.RetryDelay)
	}
}
