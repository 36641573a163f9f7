//go:build cgo
// +build cgo

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/hyperjump/docscan/internal/models"
)

// Tesseract recognizes page images with libtesseract through gosseract (requires CGO).
type Tesseract struct {
	languages   []string
	tessdataDir string
}

// NewTesseract returns a Tesseract recognizer for the given languages. tessdataDir may be
// empty to use the library's default search path.
func NewTesseract(languages []string, tessdataDir string) (*Tesseract, error) {
	if len(languages) == 0 {
		return nil, fmt.Errorf("at least one recognition language is required")
	}
	return &Tesseract{languages: languages, tessdataDir: tessdataDir}, nil
}

// Init verifies the language data once before the first page is recognized.
func (t *Tesseract) Init(_ context.Context) error {
	if t.tessdataDir != "" {
		if err := RequireModels(t.tessdataDir, t.languages); err != nil {
			return err
		}
	}
	if gosseract.Version() == "" {
		return fmt.Errorf("%w: libtesseract did not report a version", ErrEngineUnavailable)
	}
	return nil
}

// Recognize implements Recognizer. Confidence is the mean word confidence scaled to [0,1].
func (t *Tesseract) Recognize(ctx context.Context, page models.PageImage) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}
	if len(page.Data) == 0 {
		return Recognition{}, fmt.Errorf("%w: page %d has no image data", ErrRecognition, page.Number)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataDir != "" {
		if err := client.SetTessdataPrefix(t.tessdataDir); err != nil {
			return Recognition{}, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return Recognition{}, fmt.Errorf("set languages: %w", err)
	}
	if err := client.SetImageFromBytes(page.Data); err != nil {
		return Recognition{}, fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return Recognition{}, fmt.Errorf("recognize text: %w", err)
	}

	return Recognition{
		Text:       strings.TrimSpace(text),
		Confidence: meanWordConfidence(client),
	}, nil
}

func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100.0
}
