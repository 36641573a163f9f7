package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Fingerprinter derives the cache key identifying one version of a document.
type Fingerprinter interface {
	Fingerprint(path string) (string, error)
}

// FingerprintFunc adapts a function to Fingerprinter.
type FingerprintFunc func(path string) (string, error)

// Fingerprint calls f(path).
func (f FingerprintFunc) Fingerprint(path string) (string, error) {
	return f(path)
}

// MetadataFingerprint keys a document by cleaned path, byte size and modification time.
// It never reads the file: two files with colliding metadata share a key, and touching
// a file without changing its bytes produces a new key.
type MetadataFingerprint struct{}

// Fingerprint implements Fingerprinter.
func (MetadataFingerprint) Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat document: %w", err)
	}
	key := filepath.Clean(path) + "-" +
		strconv.FormatInt(info.Size(), 10) + "-" +
		strconv.FormatInt(info.ModTime().UnixMilli(), 10)
	sum := sha256.Sum256([]byte(key))
	return "meta:" + hex.EncodeToString(sum[:]), nil
}

// ContentFingerprint keys a document by the sha256 of its bytes. Identical bytes at
// different paths or with refreshed timestamps share an entry.
type ContentFingerprint struct{}

// Fingerprint implements Fingerprinter.
func (ContentFingerprint) Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash document: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// NewFingerprinter returns the strategy registered under name: "metadata" or "content".
func NewFingerprinter(name string) (Fingerprinter, error) {
	switch name {
	case "", "metadata":
		return MetadataFingerprint{}, nil
	case "content":
		return ContentFingerprint{}, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint strategy %q", name)
	}
}
