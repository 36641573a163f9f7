package config

import "time"

// Fingerprint strategies accepted by cache.fingerprint.
const (
	FingerprintMetadata = "metadata"
	FingerprintContent  = "content"
)

// DefaultRetryAttempts is the retry budget used when batch.retry_attempts is unset.
const DefaultRetryAttempts = 2

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "~/.docscan/history.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "~/.docscan/history.bleve"
	}
	if len(cfg.OCR.Languages) == 0 {
		cfg.OCR.Languages = []string{"spa", "eng"}
	}
	if cfg.OCR.NominalConfidence == 0 {
		cfg.OCR.NominalConfidence = 0.85
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 50
	}
	if cfg.Cache.Fingerprint == "" {
		cfg.Cache.Fingerprint = FingerprintMetadata
	}
	if cfg.Batch.MaxConcurrent == 0 {
		cfg.Batch.MaxConcurrent = 3
	}
	if cfg.Batch.RetryAttempts == nil {
		n := DefaultRetryAttempts
		cfg.Batch.RetryAttempts = &n
	}
	if cfg.Batch.RetryDelay == 0 {
		cfg.Batch.RetryDelay = 5 * time.Second
	}
	if cfg.Compare.IgnoreCase == nil {
		t := true
		cfg.Compare.IgnoreCase = &t
	}
	if cfg.Compare.IgnoreWhitespace == nil {
		t := true
		cfg.Compare.IgnoreWhitespace = &t
	}
	if cfg.Compare.ContextLines == 0 {
		cfg.Compare.ContextLines = 3
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}
