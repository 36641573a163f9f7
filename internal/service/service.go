// Package service wraps a pool of extraction pipelines with the result cache.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/cache"
	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/ocr"
	"github.com/hyperjump/docscan/internal/pipeline"
)

// ExtractOptions controls a single extraction.
type ExtractOptions struct {
	// ForceReprocess skips the cache lookup. The fresh result still replaces the cached one.
	ForceReprocess bool
	OnProgress     models.ProgressFunc
}

// Status describes the recognition engine and cache.
type Status struct {
	Ready         bool              `json:"ready"`
	Languages     []string          `json:"languages"`
	Models        []ocr.ModelStatus `json:"models,omitempty"`
	Pipelines     int               `json:"pipelines"`
	CacheEnabled  bool              `json:"cache_enabled"`
	CacheEntries  int               `json:"cache_entries"`
	CacheCapacity int               `json:"cache_capacity"`
}

// Service owns the result cache and a fixed pool of pipelines. Each pipeline runs one
// document at a time, so the pool size bounds concurrent recognition.
type Service struct {
	pipelines   chan *pipeline.Pipeline
	size        int
	cache       *cache.ResultCache
	fingerprint cache.Fingerprinter
	engine      *ocr.Engine
	languages   []string
	tessdataDir string
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCache enables result caching keyed by fp. A nil cache disables caching.
func WithCache(c *cache.ResultCache, fp cache.Fingerprinter) Option {
	return func(s *Service) {
		s.cache = c
		s.fingerprint = fp
	}
}

// WithEngine reports the engine's readiness and language models in Status.
func WithEngine(engine *ocr.Engine, languages []string, tessdataDir string) Option {
	return func(s *Service) {
		s.engine = engine
		s.languages = languages
		s.tessdataDir = tessdataDir
	}
}

// New builds a service with size pipelines produced by newPipeline.
func New(size int, newPipeline func() *pipeline.Pipeline, opts ...Option) *Service {
	if size < 1 {
		size = 1
	}
	s := &Service{
		pipelines: make(chan *pipeline.Pipeline, size),
		size:      size,
	}
	for i := 0; i < size; i++ {
		s.pipelines <- newPipeline()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache != nil && s.fingerprint == nil {
		s.fingerprint = cache.MetadataFingerprint{}
	}
	return s
}

// Extract returns the result for path, from the cache when possible. A cache hit
// completes immediately without touching a pipeline.
func (s *Service) Extract(ctx context.Context, path string, opts ExtractOptions) (*models.ExtractionResult, error) {
	var key string
	if s.cache != nil {
		fp, err := s.fingerprint.Fingerprint(path)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("fingerprint failed, bypassing cache", zap.String("path", path), zap.Error(err))
			}
		} else {
			key = fp
			if !opts.ForceReprocess {
				if res, ok := s.cache.Get(key); ok {
					if s.logger != nil {
						s.logger.Debug("cache hit", zap.String("path", path))
					}
					if opts.OnProgress != nil {
						opts.OnProgress(models.ProgressUpdate{Stage: models.StageComplete, Progress: 1})
					}
					return res, nil
				}
			}
		}
	}

	p, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(p)

	start := time.Now()
	res, err := p.Process(ctx, path, opts.OnProgress)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && key != "" {
		s.cache.Set(key, res)
	}
	if s.logger != nil {
		s.logger.Info("document extracted",
			zap.String("path", path),
			zap.String("document_type", res.Fields.DocumentType),
			zap.Duration("elapsed", time.Since(start)))
	}
	return res, nil
}

func (s *Service) acquire(ctx context.Context) (*pipeline.Pipeline, error) {
	select {
	case p := <-s.pipelines:
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for a pipeline: %w", ctx.Err())
	}
}

func (s *Service) release(p *pipeline.Pipeline) {
	s.pipelines <- p
}

// ClearCache drops every cached result.
func (s *Service) ClearCache() {
	if s.cache == nil {
		return
	}
	s.cache.Clear()
	if s.logger != nil {
		s.logger.Info("result cache cleared")
	}
}

// Status reports engine readiness, installed language models and cache usage.
func (s *Service) Status() Status {
	st := Status{
		Ready:     true,
		Languages: s.languages,
		Pipelines: s.size,
	}
	if s.engine != nil {
		st.Ready = s.engine.Ready()
	}
	if s.tessdataDir != "" {
		st.Models = ocr.CheckModels(s.tessdataDir, s.languages)
	}
	if s.cache != nil {
		st.CacheEnabled = true
		st.CacheEntries = s.cache.Len()
		st.CacheCapacity = s.cache.Capacity()
	}
	return st
}

// EnsureReady initializes the recognition engine ahead of the first document.
func (s *Service) EnsureReady(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	return s.engine.EnsureReady(ctx)
}
