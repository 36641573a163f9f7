// Package raster renders paginated documents into per-page images for recognition.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/models"
)

var (
	// ErrUnsupportedFormat reports input bytes the rasterizer cannot open.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrRender reports a document that opened but could not be turned into page images.
	ErrRender = errors.New("render error")
)

var pdfMagic = []byte("%PDF-")

// Rasterizer turns document bytes into an ordered sequence of page images.
type Rasterizer interface {
	Render(ctx context.Context, data []byte) ([]models.PageImage, error)
}

// PDFRasterizer turns each PDF page into recognition input. With the text layer enabled
// a page carrying real text is passed through as text; other pages yield their largest
// embedded image, which for a scan is the page itself.
type PDFRasterizer struct {
	maxPages     int
	useTextLayer bool
	logger       *zap.Logger
}

// Option configures a PDFRasterizer.
type Option func(*PDFRasterizer)

// WithMaxPages stops rendering after n pages. Zero means no limit.
func WithMaxPages(n int) Option {
	return func(r *PDFRasterizer) {
		r.maxPages = n
	}
}

// WithTextLayer enables or disables the born-digital text fallback.
func WithTextLayer(enabled bool) Option {
	return func(r *PDFRasterizer) {
		r.useTextLayer = enabled
	}
}

// WithLogger sets the logger for the rasterizer.
func WithLogger(logger *zap.Logger) Option {
	return func(r *PDFRasterizer) {
		r.logger = logger
	}
}

// NewPDFRasterizer returns a rasterizer with the text layer fallback enabled.
func NewPDFRasterizer(opts ...Option) *PDFRasterizer {
	r := &PDFRasterizer{useTextLayer: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\n\r "), pdfMagic)
}

// Render implements Rasterizer.
func (r *PDFRasterizer) Render(ctx context.Context, data []byte) ([]models.PageImage, error) {
	if !IsPDF(data) {
		return nil, fmt.Errorf("%w: missing PDF header", ErrUnsupportedFormat)
	}

	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: pdfcpu read: %w", ErrRender, err)
	}

	pageCount := pdfCtx.PageCount
	if r.maxPages > 0 && pageCount > r.maxPages {
		if r.logger != nil {
			r.logger.Warn("truncating document to page limit",
				zap.Int("pages", pageCount), zap.Int("max_pages", r.maxPages))
		}
		pageCount = r.maxPages
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrRender)
	}

	var text *textLayer
	var textErr error
	if r.useTextLayer {
		if text, textErr = openTextLayer(data); textErr != nil && r.logger != nil {
			r.logger.Debug("no usable text layer", zap.Error(textErr))
		}
	}

	pages := make([]models.PageImage, 0, pageCount)
	for pageNr := 1; pageNr <= pageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Born-digital text beats OCR of whatever images (logos, stamps) the page embeds.
		if text != nil {
			if s := text.Page(pageNr); hasText(s) {
				pages = append(pages, models.PageImage{Number: pageNr, Text: s, HasTextLayer: true})
				continue
			}
		}

		img, err := largestImage(pdfCtx, pageNr)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrRender, pageNr, err)
		}
		if img != nil {
			pages = append(pages, *img)
			continue
		}
		if textErr != nil {
			return nil, fmt.Errorf("%w: page %d has no image and the text layer failed: %w", ErrRender, pageNr, textErr)
		}
		return nil, fmt.Errorf("%w: page %d has no image or text content", ErrRender, pageNr)
	}

	if r.logger != nil {
		r.logger.Debug("document rasterized", zap.Int("pages", len(pages)))
	}
	return pages, nil
}

// minTextLayerRunes is the least non-space text that makes a page born-digital. Scanner
// software sometimes stamps a few characters (a date, a page number) over the image.
const minTextLayerRunes = 16

func hasText(s string) bool {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
			if n >= minTextLayerRunes {
				return true
			}
		}
	}
	return false
}

// largestImage returns the biggest embedded image on the page, which for a scan is the
// page itself. It returns nil when the page carries no images.
func largestImage(ctx *model.Context, pageNr int) (*models.PageImage, error) {
	imgs, err := pdfcpu.ExtractPageImages(ctx, pageNr, false)
	if err != nil {
		return nil, err
	}
	var best *model.Image
	for objNr := range imgs {
		img := imgs[objNr]
		if best == nil || img.Width*img.Height > best.Width*best.Height {
			best = &img
		}
	}
	if best == nil {
		return nil, nil
	}
	data, err := io.ReadAll(best)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &models.PageImage{Number: pageNr, Data: data, Format: best.FileType}, nil
}
