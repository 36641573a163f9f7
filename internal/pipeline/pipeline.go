// Package pipeline turns one scanned document into recognized text and structured fields.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/ocr"
	"github.com/hyperjump/docscan/internal/raster"
)

// DefaultNominalConfidence is reported for multi-page document runs.
const DefaultNominalConfidence = 0.85

// readier is implemented by recognizers with a one-time setup step.
type readier interface {
	EnsureReady(ctx context.Context) error
}

// Pipeline runs rasterize, recognize and field extraction for one document at a time.
// A call made while another is in flight fails with ErrAlreadyProcessing; queuing is
// the scheduler's job.
type Pipeline struct {
	rasterizer        raster.Rasterizer
	recognizer        ocr.Recognizer
	rules             *FieldRules
	nominalConfidence float64
	logger            *zap.Logger
	now               func() time.Time

	busy atomic.Bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for the pipeline.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithRules replaces the default field matchers.
func WithRules(rules *FieldRules) Option {
	return func(p *Pipeline) {
		p.rules = rules
	}
}

// WithNominalConfidence sets the confidence reported for document runs.
func WithNominalConfidence(c float64) Option {
	return func(p *Pipeline) {
		p.nominalConfidence = c
	}
}

// New returns a pipeline using the given rasterization and recognition capabilities.
func New(rasterizer raster.Rasterizer, recognizer ocr.Recognizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		rasterizer:        rasterizer,
		recognizer:        recognizer,
		rules:             DefaultRules(),
		nominalConfidence: DefaultNominalConfidence,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Busy reports whether a document is in flight.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// Process extracts text and fields from the document at path. onProgress may be nil.
// ctx is checked between stages and between pages.
func (p *Pipeline) Process(ctx context.Context, path string, onProgress models.ProgressFunc) (*models.ExtractionResult, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrAlreadyProcessing
	}
	defer p.busy.Store(false)

	report := func(u models.ProgressUpdate) {
		if onProgress != nil {
			onProgress(u)
		}
	}

	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	start := p.now()
	var result *models.ExtractionResult
	switch format {
	case FormatPDF:
		result, err = p.processDocument(ctx, data, report)
	case FormatImage:
		result, err = p.processImage(ctx, path, data, report)
	case FormatText:
		result, err = p.processText(ctx, data, report)
	}
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("pipeline failed", zap.String("path", path), zap.Error(err))
		}
		return nil, err
	}

	if p.logger != nil {
		p.logger.Debug("pipeline complete",
			zap.String("path", path),
			zap.String("format", format.String()),
			zap.Int("pages", result.Pages),
			zap.String("document_type", result.Fields.DocumentType),
			zap.Duration("elapsed", p.now().Sub(start)))
	}
	return result, nil
}

func (p *Pipeline) processDocument(ctx context.Context, data []byte, report models.ProgressFunc) (*models.ExtractionResult, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	report(models.ProgressUpdate{Stage: models.StageRasterize, Progress: 0})
	pages, err := p.rasterizer.Render(ctx, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, raster.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages rendered", ErrConversionFailed)
	}

	text, err := p.recognizePages(ctx, pages, report)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, text, p.nominalConfidence, len(pages), models.MethodDocumentOCR, report)
}

func (p *Pipeline) processImage(ctx context.Context, path string, data []byte, report models.ProgressFunc) (*models.ExtractionResult, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	page := models.PageImage{
		Number: 1,
		Data:   data,
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	report(models.ProgressUpdate{Stage: models.StageRecognize, Progress: 0, Page: 1, TotalPages: 1})
	rec, err := p.recognizer.Recognize(ctx, page)
	if err != nil {
		return nil, recognitionError(ctx, page.Number, err)
	}
	return p.finish(ctx, rec.Text, clamp01(rec.Confidence), 1, models.MethodImageOCR, report)
}

func (p *Pipeline) processText(ctx context.Context, data []byte, report models.ProgressFunc) (*models.ExtractionResult, error) {
	return p.finish(ctx, string(data), 1.0, 1, models.MethodNativeText, report)
}

// recognizePages recognizes pages strictly in order and joins them with newlines.
func (p *Pipeline) recognizePages(ctx context.Context, pages []models.PageImage, report models.ProgressFunc) (string, error) {
	total := len(pages)
	texts := make([]string, 0, total)
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		report(models.ProgressUpdate{
			Stage:      models.StageRecognize,
			Progress:   float64(i) / float64(total),
			Page:       i + 1,
			TotalPages: total,
		})
		if page.HasTextLayer {
			texts = append(texts, page.Text)
			continue
		}
		rec, err := p.recognizer.Recognize(ctx, page)
		if err != nil {
			return "", recognitionError(ctx, i+1, err)
		}
		texts = append(texts, rec.Text)
	}
	return strings.Join(texts, "\n"), nil
}

func (p *Pipeline) finish(ctx context.Context, text string, confidence float64, pages int, method models.Method, report models.ProgressFunc) (*models.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(models.ProgressUpdate{Stage: models.StageExtract, Progress: 0.9})
	fields := p.rules.Extract(text)
	report(models.ProgressUpdate{Stage: models.StageComplete, Progress: 1})
	return &models.ExtractionResult{
		Fields:      fields,
		FullText:    text,
		Confidence:  confidence,
		Pages:       pages,
		Method:      method,
		ProcessedAt: p.now(),
	}, nil
}

func (p *Pipeline) ensureReady(ctx context.Context) error {
	r, ok := p.recognizer.(readier)
	if !ok {
		return nil
	}
	if err := r.EnsureReady(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRecognitionFailed, err)
	}
	return nil
}

func recognitionError(ctx context.Context, page int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: page %d: %w", ErrRecognitionFailed, page, err)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
