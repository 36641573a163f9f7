//go:build !cgo
// +build !cgo

package ocr

import (
	"context"
	"fmt"

	"github.com/hyperjump/docscan/internal/models"
)

// Tesseract stub type when built without CGO (see tesseract.go for the real implementation).
type Tesseract struct{}

// NewTesseract returns an error when built without CGO (libtesseract not available).
func NewTesseract(_ []string, _ string) (*Tesseract, error) {
	return nil, fmt.Errorf("%w: tesseract requires CGO; build with CGO_ENABLED=1 and libtesseract", ErrEngineUnavailable)
}

// Init always fails without CGO.
func (t *Tesseract) Init(_ context.Context) error {
	return ErrEngineUnavailable
}

// Recognize always fails without CGO.
func (t *Tesseract) Recognize(_ context.Context, _ models.PageImage) (Recognition, error) {
	return Recognition{}, ErrEngineUnavailable
}
