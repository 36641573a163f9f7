// Package server provides the HTTP API for docscan. It adapts the scheduler, extraction
// service, comparator and history store to JSON over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/compare"
	"github.com/hyperjump/docscan/internal/config"
	"github.com/hyperjump/docscan/internal/history"
	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/scheduler"
	"github.com/hyperjump/docscan/internal/service"
)

// Extraction is the part of the extraction service the API needs.
type Extraction interface {
	Extract(ctx context.Context, path string, opts service.ExtractOptions) (*models.ExtractionResult, error)
	ClearCache()
	Status() service.Status
}

// Server is the HTTP server for the docscan API.
type Server struct {
	scheduler  *scheduler.Scheduler
	extraction Extraction
	history    *history.Store
	comparator *compare.Comparator
	config     *config.ServerConfig
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	sched *scheduler.Scheduler,
	extraction Extraction,
	hist *history.Store,
	comparator *compare.Comparator,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		scheduler:  sched,
		extraction: extraction,
		history:    hist,
		comparator: comparator,
		config:     cfg,
		logger:     logger,
	}
}

// Router builds the chi router serving every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Server-sent events outlive the request timeout.
	r.Get("/api/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.handleSubmit)
				r.Get("/", s.handleListJobs)
				r.Delete("/", s.handleClearFinished)
				r.Post("/cancel", s.handleCancelAll)
				r.Get("/{id}", s.handleGetJob)
				r.Delete("/{id}", s.handleCancelJob)
			})
			r.Post("/batch/pause", s.handlePause)
			r.Post("/batch/resume", s.handleResume)
			r.Get("/stats", s.handleStatistics)
			r.Get("/export", s.handleExport)
			r.Post("/compare", s.handleCompare)
			r.Route("/history", func(r chi.Router) {
				r.Get("/", s.handleHistorySearch)
				r.Get("/recent", s.handleHistoryRecent)
				r.Get("/summary", s.handleHistorySummary)
				r.Get("/{id}", s.handleHistoryGet)
			})
			r.Delete("/cache", s.handleClearCache)
			r.Get("/status", s.handleStatus)
		})
		r.Get("/health", s.handleHealth)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
