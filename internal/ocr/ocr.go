// Package ocr defines the recognition capability consumed by the extraction pipeline and
// an initialize-once engine wrapper around it.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/docscan/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrRecognition reports that a page image could not be recognized.
	ErrRecognition = errors.New("recognition error")
	// ErrEngineUnavailable reports that no recognition engine is built into this binary
	// or that its language data is missing.
	ErrEngineUnavailable = errors.New("recognition engine unavailable")
)

// Recognition is the text and confidence in [0,1] recognized on one page image.
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer turns a page image into text.
type Recognizer interface {
	Recognize(ctx context.Context, page models.PageImage) (Recognition, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, page models.PageImage) (Recognition, error)

// Recognize calls f(ctx, page).
func (f RecognizerFunc) Recognize(ctx context.Context, page models.PageImage) (Recognition, error) {
	return f(ctx, page)
}

// InitFunc performs the one-time setup of a recognizer (loading language data and the like).
type InitFunc func(ctx context.Context) error

// Engine wraps a Recognizer with explicit readiness. The first successful EnsureReady
// runs init; later calls return immediately. A failed init is retried on the next call.
type Engine struct {
	rec    Recognizer
	init   InitFunc
	logger *zap.Logger

	mu    sync.Mutex
	ready bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithInit sets the one-time initializer.
func WithInit(fn InitFunc) EngineOption {
	return func(e *Engine) {
		e.init = fn
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine wraps rec.
func NewEngine(rec Recognizer, opts ...EngineOption) *Engine {
	e := &Engine{rec: rec}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureReady initializes the engine once. It is safe to call concurrently and repeatedly.
func (e *Engine) EnsureReady(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}
	if e.init != nil {
		if err := e.init(ctx); err != nil {
			if e.logger != nil {
				e.logger.Warn("recognition engine init failed", zap.Error(err))
			}
			return fmt.Errorf("failed to initialize recognition engine: %w", err)
		}
	}
	e.ready = true
	if e.logger != nil {
		e.logger.Info("recognition engine ready")
	}
	return nil
}

// Ready reports whether EnsureReady has succeeded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Recognize runs the wrapped recognizer, initializing first if needed.
// Errors are wrapped with ErrRecognition.
func (e *Engine) Recognize(ctx context.Context, page models.PageImage) (Recognition, error) {
	if err := e.EnsureReady(ctx); err != nil {
		return Recognition{}, err
	}
	rec, err := e.rec.Recognize(ctx, page)
	if err != nil {
		if errors.Is(err, ErrRecognition) {
			return Recognition{}, err
		}
		return Recognition{}, fmt.Errorf("%w: page %d: %w", ErrRecognition, page.Number, err)
	}
	return rec, nil
}
