// Package config provides configuration loading and structs for the docscan engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	OCR     OCRConfig     `yaml:"ocr"`
	Cache   CacheConfig   `yaml:"cache"`
	Batch   BatchConfig   `yaml:"batch"`
	Compare CompareConfig `yaml:"compare"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the history database and its full-text index.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
}

// OCRConfig holds recognition and rasterization settings.
type OCRConfig struct {
	Languages         []string `yaml:"languages"`
	TessdataDir       string   `yaml:"tessdata_dir"`
	MaxPages          int      `yaml:"max_pages"`
	UseTextLayer      *bool    `yaml:"use_text_layer"`
	NominalConfidence float64  `yaml:"nominal_confidence"`
}

// UseTextLayerOrDefault reports whether born-digital PDF text is used in place of
// recognition; defaults to true when unset.
func (o *OCRConfig) UseTextLayerOrDefault() bool {
	if o.UseTextLayer != nil {
		return *o.UseTextLayer
	}
	return true
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Capacity    int    `yaml:"capacity"`
	Fingerprint string `yaml:"fingerprint"`
}

// EnabledOrDefault returns whether the result cache is on; defaults to true when unset.
func (c *CacheConfig) EnabledOrDefault() bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	return true
}

// BatchConfig holds scheduler settings.
type BatchConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	RetryAttempts   *int          `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	PreemptOnCancel bool          `yaml:"preempt_on_cancel"`
}

// RetryAttemptsOrDefault returns the number of extra attempts after a failure.
// Zero is a valid setting, so unset is told apart with a pointer.
func (b *BatchConfig) RetryAttemptsOrDefault() int {
	if b.RetryAttempts != nil {
		return *b.RetryAttempts
	}
	return DefaultRetryAttempts
}

// CompareConfig holds comparator settings.
type CompareConfig struct {
	IgnoreCase       *bool `yaml:"ignore_case"`
	IgnoreWhitespace *bool `yaml:"ignore_whitespace"`
	ContextLines     int   `yaml:"context_lines"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Debounce    time.Duration `yaml:"debounce"`
	Priority    int           `yaml:"priority"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	if cfg.OCR.TessdataDir != "" {
		cfg.OCR.TessdataDir = expandPath(cfg.OCR.TessdataDir, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, used when no file is present.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, ".")
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, ".")
	return cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Batch.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_concurrent must be positive, got %d", c.Batch.MaxConcurrent))
	}
	if n := c.Batch.RetryAttemptsOrDefault(); n < 0 {
		errs = append(errs, fmt.Errorf("batch.retry_attempts must not be negative, got %d", n))
	}
	if c.Batch.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("batch.retry_delay must not be negative, got %s", c.Batch.RetryDelay))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity))
	}
	switch c.Cache.Fingerprint {
	case FingerprintMetadata, FingerprintContent:
	default:
		errs = append(errs, fmt.Errorf("cache.fingerprint: unknown strategy %q", c.Cache.Fingerprint))
	}
	if c.OCR.NominalConfidence < 0 || c.OCR.NominalConfidence > 1 {
		errs = append(errs, fmt.Errorf("ocr.nominal_confidence must be within [0,1], got %v", c.OCR.NominalConfidence))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. A leading "~/" is the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
