package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/cache"
	"github.com/hyperjump/docscan/internal/compare"
	"github.com/hyperjump/docscan/internal/config"
	"github.com/hyperjump/docscan/internal/history"
	"github.com/hyperjump/docscan/internal/ocr"
	"github.com/hyperjump/docscan/internal/pipeline"
	"github.com/hyperjump/docscan/internal/raster"
	"github.com/hyperjump/docscan/internal/scheduler"
	"github.com/hyperjump/docscan/internal/service"
	"github.com/hyperjump/docscan/pkg/utils"
)

// Components holds initialized services.
type Components struct {
	History    *history.Store
	Service    *service.Service
	Scheduler  *scheduler.Scheduler
	Comparator *compare.Comparator
}

// Close stops the scheduler, then closes the history store.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if c.Scheduler != nil {
		errs = append(errs, c.Scheduler.Close(ctx))
	}
	if c.History != nil {
		errs = append(errs, c.History.Close())
	}
	return errors.Join(errs...)
}

// componentOptions selects the optional parts of the wiring.
type componentOptions struct {
	// NoHistory leaves completed jobs unrecorded and skips opening the store.
	NoHistory bool
	// Fuzziness is the edit distance history searches tolerate per term.
	Fuzziness int
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	c := &Components{Comparator: newComparator(cfg)}

	if !opts.NoHistory {
		hist, err := history.Open(ctx, cfg.Storage.DatabasePath, cfg.Storage.IndexPath,
			history.WithLogger(utils.Named(logger, "history")),
			history.WithFuzziness(opts.Fuzziness),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		c.History = hist
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Service = svc

	schedOpts := []scheduler.Option{scheduler.WithLogger(utils.Named(logger, "scheduler"))}
	if c.History != nil {
		schedOpts = append(schedOpts, scheduler.WithRecorder(c.History))
	}
	c.Scheduler = scheduler.New(svc, scheduler.Config{
		MaxConcurrent:   cfg.Batch.MaxConcurrent,
		RetryAttempts:   cfg.Batch.RetryAttemptsOrDefault(),
		RetryDelay:      cfg.Batch.RetryDelay,
		PreemptOnCancel: cfg.Batch.PreemptOnCancel,
	}, schedOpts...)
	return c, nil
}

// newService builds the recognition engine and a pipeline pool sized to the batch limit.
func newService(cfg *config.Config, logger *zap.Logger) (*service.Service, error) {
	tess, err := ocr.NewTesseract(cfg.OCR.Languages, cfg.OCR.TessdataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recognizer: %w", err)
	}
	engine := ocr.NewEngine(tess,
		ocr.WithInit(tess.Init),
		ocr.WithLogger(utils.Named(logger, "ocr")),
	)
	rasterizer := raster.NewPDFRasterizer(
		raster.WithMaxPages(cfg.OCR.MaxPages),
		raster.WithTextLayer(cfg.OCR.UseTextLayerOrDefault()),
		raster.WithLogger(utils.Named(logger, "raster")),
	)
	newPipeline := func() *pipeline.Pipeline {
		return pipeline.New(rasterizer, engine,
			pipeline.WithNominalConfidence(cfg.OCR.NominalConfidence),
			pipeline.WithLogger(utils.Named(logger, "pipeline")),
		)
	}

	svcOpts := []service.Option{
		service.WithLogger(utils.Named(logger, "service")),
		service.WithEngine(engine, cfg.OCR.Languages, cfg.OCR.TessdataDir),
	}
	if cfg.Cache.EnabledOrDefault() {
		fp, err := cache.NewFingerprinter(cfg.Cache.Fingerprint)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithCache(cache.NewResultCache(cfg.Cache.Capacity), fp))
	}
	return service.New(cfg.Batch.MaxConcurrent, newPipeline, svcOpts...), nil
}

func newComparator(cfg *config.Config) *compare.Comparator {
	opts := compare.DefaultOptions()
	if cfg.Compare.IgnoreCase != nil {
		opts.IgnoreCase = *cfg.Compare.IgnoreCase
	}
	if cfg.Compare.IgnoreWhitespace != nil {
		opts.IgnoreWhitespace = *cfg.Compare.IgnoreWhitespace
	}
	if cfg.Compare.ContextLines > 0 {
		opts.ContextLines = cfg.Compare.ContextLines
	}
	return compare.New(opts)
}
