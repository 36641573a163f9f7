package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/export"
	"github.com/hyperjump/docscan/internal/history"
	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/pipeline"
	"github.com/hyperjump/docscan/internal/scheduler"
	"github.com/hyperjump/docscan/internal/service"
)

type submitRequest struct {
	Path           string   `json:"path,omitempty"`
	Paths          []string `json:"paths,omitempty"`
	Priority       int      `json:"priority"`
	ForceReprocess bool     `json:"force_reprocess"`
	Tags           []string `json:"tags,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	paths := req.Paths
	if req.Path != "" {
		paths = append([]string{req.Path}, paths...)
	}
	if len(paths) == 0 {
		s.respondError(w, http.StatusBadRequest, "path or paths is required")
		return
	}
	for _, p := range paths {
		if err := checkDocument(p); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.logger.Debug("submit request", zap.Strings("paths", paths), zap.Int("priority", req.Priority))
	ids, err := s.scheduler.SubmitMany(paths, scheduler.SubmitOptions{
		Priority:       req.Priority,
		ForceReprocess: req.ForceReprocess,
		Tags:           req.Tags,
		Notes:          req.Notes,
	})
	if err != nil {
		s.logger.Error("submit failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"job_ids": ids})
}

// checkDocument rejects paths that are missing, directories or of an unsupported type.
func checkDocument(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory: %s", path)
	}
	if !pipeline.Supported(path) {
		return fmt.Errorf("unsupported format: %s", path)
	}
	return nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := scheduler.ParseStatus(raw)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown status")
			return
		}
		s.respondJSON(w, http.StatusOK, s.scheduler.JobsByStatus(st))
		return
	}
	s.respondJSON(w, http.StatusOK, s.scheduler.Jobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Job(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("cancel job request", zap.String("job_id", id))
	if !s.scheduler.Cancel(id) {
		if _, err := s.scheduler.Job(id); errors.Is(err, scheduler.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		s.respondError(w, http.StatusConflict, "job already finished")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	s.scheduler.CancelAll()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleClearFinished(w http.ResponseWriter, r *http.Request) {
	n := s.scheduler.ClearFinished()
	s.respondJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Pause()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Resume()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.scheduler.Statistics())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.scheduler.Export()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "docscan-export-"+snap.Timestamp.Format("20060102-150405")+"."+string(format)))
	if err := export.Write(w, format, snap); err != nil {
		s.logger.Error("export failed", zap.Error(err))
	}
}

// documentRef names one side of a comparison: a file to extract or a history record.
type documentRef struct {
	Path      string `json:"path,omitempty"`
	HistoryID int64  `json:"history_id,omitempty"`
}

type compareRequest struct {
	A documentRef `json:"a"`
	B documentRef `json:"b"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, status, err := s.resolve(r, req.A)
	if err != nil {
		s.respondError(w, status, "a: "+err.Error())
		return
	}
	b, status, err := s.resolve(r, req.B)
	if err != nil {
		s.respondError(w, status, "b: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.comparator.Compare(a, b))
}

func (s *Server) resolve(r *http.Request, ref documentRef) (*models.ExtractionResult, int, error) {
	switch {
	case ref.HistoryID != 0:
		rec, err := s.history.Get(r.Context(), ref.HistoryID)
		if errors.Is(err, history.ErrNotFound) {
			return nil, http.StatusNotFound, err
		}
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return rec.Result(), 0, nil
	case ref.Path != "":
		if err := checkDocument(ref.Path); err != nil {
			return nil, http.StatusBadRequest, err
		}
		res, err := s.extraction.Extract(r.Context(), ref.Path, service.ExtractOptions{})
		if err != nil {
			s.logger.Error("compare extraction failed", zap.String("path", ref.Path), zap.Error(err))
			return nil, http.StatusUnprocessableEntity, err
		}
		return res, 0, nil
	}
	return nil, http.StatusBadRequest, errors.New("path or history_id is required")
}

func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.HistoryFilter{DocumentType: q.Get("type")}
	var err error
	if filter.From, err = models.ParseFilterTime(q.Get("from"), false); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if filter.To, err = models.ParseFilterTime(q.Get("to"), true); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if err := filter.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.history.Search(r.Context(), q.Get("q"), filter)
	if err != nil {
		s.logger.Error("history search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHistoryRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent history failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.history.Summary(r.Context())
	if err != nil {
		s.logger.Error("history summary failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	rec, err := s.history.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.extraction.ClearCache()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"engine":     s.extraction.Status(),
		"statistics": s.scheduler.Statistics(),
		"paused":     s.scheduler.Paused(),
	}
	if sum, err := s.history.Summary(r.Context()); err == nil {
		resp["history_documents"] = sum.TotalDocuments
	}
	if usage, err := s.history.DiskUsage(); err == nil {
		resp["disk_usage_bytes"] = usage
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents streams scheduler events as server-sent events until the client leaves.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events := make(chan scheduler.Event, 64)
	unsubscribe := s.scheduler.Subscribe(func(e scheduler.Event) {
		select {
		case events <- e:
		default:
			// drop for slow clients
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
