// Package scheduler queues documents by priority and runs a bounded number of them
// concurrently through an Extractor, retrying failures and publishing lifecycle events.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/service"
)

var (
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Extractor runs one extraction. service.Service implements it.
type Extractor interface {
	Extract(ctx context.Context, path string, opts service.ExtractOptions) (*models.ExtractionResult, error)
}

// Recorder persists completed results. history.Store implements it.
type Recorder interface {
	Save(ctx context.Context, path string, result *models.ExtractionResult, meta models.SaveMetadata) (int64, error)
}

// Config holds scheduler limits. Zero MaxConcurrent means 1.
type Config struct {
	MaxConcurrent   int
	RetryAttempts   int
	RetryDelay      time.Duration
	PreemptOnCancel bool
}

// Scheduler owns the lifecycle of every submitted job.
type Scheduler struct {
	cfg       Config
	extractor Extractor
	recorder  Recorder
	bus       *Bus
	logger    *zap.Logger
	now       func() time.Time
	sem       *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc
	loops      sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	pending []string
	paused  bool
	running bool
	closed  bool
	active  int
	// wake nudges a running dispatch loop after new work or a freed slot.
	wake chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithRecorder persists every completed job through r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithBus publishes events on b instead of a private bus.
func WithBus(b *Bus) Option {
	return func(s *Scheduler) { s.bus = b }
}

// New creates an idle, unpaused scheduler.
func New(extractor Extractor, cfg Config, opts ...Option) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		extractor:  extractor,
		now:        time.Now,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		baseCtx:    ctx,
		baseCancel: cancel,
		jobs:       make(map[string]*job),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = NewBus()
	}
	return s
}

// Subscribe registers h for every event and returns a function that removes it.
func (s *Scheduler) Subscribe(h Handler) func() {
	return s.bus.Subscribe(h)
}

// Submit queues path as a Pending job and starts dispatching if the scheduler is idle.
func (s *Scheduler) Submit(path string, opts SubmitOptions) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty document path")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	j := &job{
		id:          uuid.NewString(),
		path:        path,
		opts:        opts,
		status:      StatusPending,
		submittedAt: s.now(),
	}
	s.jobs[j.id] = j
	s.order = append(s.order, j.id)
	snap := j.snapshot(s.now())
	s.mu.Unlock()

	// Queued only after job:added so no loop can start it first.
	s.emit(Event{Type: EventJobAdded, Job: &snap})
	if s.logger != nil {
		s.logger.Debug("job added",
			zap.String("job_id", j.id),
			zap.String("path", path),
			zap.Int("priority", opts.Priority))
	}

	s.mu.Lock()
	if j.status == StatusPending {
		s.pending = append(s.pending, j.id)
		s.startLocked()
	}
	s.mu.Unlock()
	return j.id, nil
}

// SubmitMany submits every path with the same options. It stops at the first error and
// returns the ids submitted so far.
func (s *Scheduler) SubmitMany(paths []string, opts SubmitOptions) ([]string, error) {
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		id, err := s.Submit(p, opts)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Pause stops dispatching new jobs. Running jobs continue to completion.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.emit(Event{Type: EventBatchPaused})
}

// Resume restarts dispatching if jobs remain queued.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.emit(Event{Type: EventBatchResumed})

	s.mu.Lock()
	s.startLocked()
	s.mu.Unlock()
}

// Paused reports whether dispatching is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Cancel cancels a Pending or Processing job. It returns false for unknown ids and
// terminal jobs. A Processing job is marked Cancelled at once and its result is
// discarded; its extraction is only interrupted when PreemptOnCancel is set.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	snap, ok := s.cancelLocked(id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.emit(Event{Type: EventJobCancelled, Job: &snap})
	if s.logger != nil {
		s.logger.Info("job cancelled", zap.String("job_id", id))
	}
	return true
}

func (s *Scheduler) cancelLocked(id string) (JobSnapshot, bool) {
	j, ok := s.jobs[id]
	if !ok || j.status.Terminal() {
		return JobSnapshot{}, false
	}
	switch j.status {
	case StatusPending:
		s.removePendingLocked(id)
	case StatusProcessing:
		if s.cfg.PreemptOnCancel && j.cancel != nil {
			j.cancel()
		}
	}
	j.status = StatusCancelled
	j.finishedAt = s.now()
	return j.snapshot(j.finishedAt), true
}

func (s *Scheduler) removePendingLocked(id string) {
	for i, pid := range s.pending {
		if pid == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// CancelAll cancels every Pending and Processing job and pauses the scheduler.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	var snaps []JobSnapshot
	for _, id := range s.order {
		if snap, ok := s.cancelLocked(id); ok {
			snaps = append(snaps, snap)
		}
	}
	s.pending = nil
	s.paused = true
	s.mu.Unlock()

	for i := range snaps {
		s.emit(Event{Type: EventJobCancelled, Job: &snaps[i]})
	}
	s.emit(Event{Type: EventBatchCancelled})
	if s.logger != nil {
		s.logger.Info("batch cancelled", zap.Int("jobs", len(snaps)))
	}
}

// Statistics scans all known jobs.
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeStatistics(s.jobs, s.now())
}

// Jobs returns every job in submission order.
func (s *Scheduler) Jobs() []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]JobSnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].snapshot(now))
	}
	return out
}

// JobsByStatus returns the jobs in status st, in submission order.
func (s *Scheduler) JobsByStatus(st Status) []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := []JobSnapshot{}
	for _, id := range s.order {
		if j := s.jobs[id]; j.status == st {
			out = append(out, j.snapshot(now))
		}
	}
	return out
}

// Job returns one job.
func (s *Scheduler) Job(id string) (JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobSnapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.snapshot(s.now()), nil
}

// ClearFinished forgets every Completed, Failed and Cancelled job and returns how many
// were removed.
func (s *Scheduler) ClearFinished() int {
	s.mu.Lock()
	kept := s.order[:0]
	cleared := 0
	for _, id := range s.order {
		if s.jobs[id].status.Terminal() {
			delete(s.jobs, id)
			cleared++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	s.mu.Unlock()

	s.emit(Event{Type: EventJobsCleared, Cleared: cleared})
	return cleared
}

// Export returns every completed job and the current statistics.
func (s *Scheduler) Export() ExportSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	snap := ExportSnapshot{
		Timestamp:  now,
		Statistics: computeStatistics(s.jobs, now),
		Results:    []ExportedResult{},
	}
	for _, id := range s.order {
		j := s.jobs[id]
		if j.status != StatusCompleted {
			continue
		}
		snap.Results = append(snap.Results, ExportedResult{
			FileName: j.snapshot(now).FileName,
			FilePath: j.path,
			Duration: j.duration(now),
			Result:   j.result,
		})
	}
	return snap
}

// Wait blocks until no dispatch loop is running and nothing remains dispatchable.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{}, 1)
	unsubscribe := s.bus.Subscribe(func(e Event) {
		if e.Type == EventBatchCompleted {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	for {
		if s.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}

func (s *Scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running && (len(s.pending) == 0 || s.paused || s.closed)
}

// Close stops dispatching, interrupts running extractions and waits for them to return
// or for ctx to expire. Pending jobs stay Pending.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.baseCancel()
	s.nudge()

	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startLocked launches the dispatch loop when there is work and nothing prevents it, or
// wakes the running loop so it admits the new work into free slots.
func (s *Scheduler) startLocked() {
	if s.paused || s.closed || len(s.pending) == 0 {
		return
	}
	if s.running {
		s.nudge()
		return
	}
	s.running = true
	s.loops.Add(1)
	go s.dispatch()
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// admissibleLocked reports whether a pending job may be started now.
func (s *Scheduler) admissibleLocked() bool {
	return !s.paused && !s.closed && len(s.pending) > 0
}

// dispatch admits jobs while slots are free, highest priority first. With nothing to
// admit it sleeps until new work arrives or a job finishes, and exits once nothing is
// admissible and nothing is in flight.
func (s *Scheduler) dispatch() {
	defer s.loops.Done()
	s.emit(Event{Type: EventBatchStarted})
	if s.logger != nil {
		s.logger.Debug("batch started")
	}

	for {
		s.mu.Lock()
		admit := s.admissibleLocked()
		if !admit && s.active == 0 {
			s.running = false
			stats := computeStatistics(s.jobs, s.now())
			s.mu.Unlock()
			s.finishBatch(stats)
			return
		}
		s.mu.Unlock()

		if !admit {
			<-s.wake
			continue
		}
		if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
			// Only Close cancels baseCtx, and it marks the scheduler closed first.
			continue
		}
		s.mu.Lock()
		if !s.admissibleLocked() {
			s.mu.Unlock()
			s.sem.Release(1)
			continue
		}
		j, ctx := s.startNextLocked()
		snap := j.snapshot(j.startedAt)
		s.mu.Unlock()

		s.emit(Event{Type: EventJobStarted, Job: &snap})
		go func() {
			s.run(ctx, j)
			j.cancel()
			s.sem.Release(1)
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			s.nudge()
		}()
	}
}

// startNextLocked moves the highest priority pending job to Processing.
func (s *Scheduler) startNextLocked() (*job, context.Context) {
	sort.SliceStable(s.pending, func(a, b int) bool {
		return s.jobs[s.pending[a]].opts.Priority > s.jobs[s.pending[b]].opts.Priority
	})
	id := s.pending[0]
	s.pending = s.pending[1:]
	j := s.jobs[id]
	ctx, cancel := context.WithCancel(s.baseCtx)
	j.status = StatusProcessing
	j.startedAt = s.now()
	j.cancel = cancel
	s.active++
	return j, ctx
}

func (s *Scheduler) finishBatch(stats Statistics) {
	s.emit(Event{Type: EventBatchCompleted, Statistics: &stats})
	if s.logger != nil {
		s.logger.Info("batch completed",
			zap.Int("completed", stats.Completed),
			zap.Int("failed", stats.Failed),
			zap.Int("cancelled", stats.Cancelled))
	}
}

// run executes one job with retries.
func (s *Scheduler) run(ctx context.Context, j *job) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.cfg.RetryAttempts+1; attempt++ {
		if s.cancelled(j) {
			return
		}
		s.mu.Lock()
		j.attempts = attempt
		s.mu.Unlock()
		attempts = attempt

		result, err := s.extractor.Extract(ctx, j.path, service.ExtractOptions{
			ForceReprocess: j.opts.ForceReprocess,
			OnProgress:     func(u models.ProgressUpdate) { s.progress(j, u) },
		})
		if err == nil {
			s.complete(ctx, j, result)
			return
		}
		lastErr = err
		if ctx.Err() != nil || attempt > s.cfg.RetryAttempts {
			break
		}

		s.mu.Lock()
		snap := j.snapshot(s.now())
		s.mu.Unlock()
		s.emit(Event{Type: EventJobRetry, Job: &snap, Attempt: attempt, MaxAttempts: s.cfg.RetryAttempts})
		if s.logger != nil {
			s.logger.Warn("job attempt failed, retrying",
				zap.String("job_id", j.id),
				zap.Int("attempt", attempt),
				zap.Duration("delay", s.cfg.RetryDelay),
				zap.Error(err))
		}

		timer := time.NewTimer(s.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.fail(j, lastErr, attempts)
			return
		case <-timer.C:
		}
	}
	s.fail(j, lastErr, attempts)
}

func (s *Scheduler) cancelled(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.status == StatusCancelled
}

func (s *Scheduler) progress(j *job, u models.ProgressUpdate) {
	s.mu.Lock()
	if j.status != StatusProcessing {
		s.mu.Unlock()
		return
	}
	j.progress = u.Progress
	snap := j.snapshot(s.now())
	s.mu.Unlock()
	s.emit(Event{Type: EventJobProgress, Job: &snap, Progress: &u})
}

func (s *Scheduler) complete(ctx context.Context, j *job, result *models.ExtractionResult) {
	s.mu.Lock()
	if j.status != StatusProcessing {
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Debug("discarding result of cancelled job", zap.String("job_id", j.id))
		}
		return
	}
	j.status = StatusCompleted
	j.progress = 1
	j.result = result
	j.finishedAt = s.now()
	snap := j.snapshot(j.finishedAt)
	s.mu.Unlock()

	if s.recorder != nil {
		meta := models.SaveMetadata{
			Duration: snap.Duration,
			Tags:     j.opts.Tags,
			Notes:    j.opts.Notes,
		}
		if info, err := os.Stat(j.path); err == nil {
			meta.FileSize = info.Size()
		}
		// The job context may already be done if the scheduler is closing; the record
		// is written regardless.
		if _, err := s.recorder.Save(context.WithoutCancel(ctx), j.path, result, meta); err != nil && s.logger != nil {
			s.logger.Error("failed to record job result",
				zap.String("job_id", j.id),
				zap.String("path", j.path),
				zap.Error(err))
		}
	}

	s.emit(Event{Type: EventJobCompleted, Job: &snap})
	if s.logger != nil {
		s.logger.Info("job completed",
			zap.String("job_id", j.id),
			zap.String("document_type", result.Fields.DocumentType),
			zap.Duration("duration", snap.Duration))
	}
}

func (s *Scheduler) fail(j *job, err error, attempts int) {
	s.mu.Lock()
	if j.status != StatusProcessing {
		s.mu.Unlock()
		return
	}
	j.status = StatusFailed
	if err != nil {
		j.err = err.Error()
	}
	j.finishedAt = s.now()
	snap := j.snapshot(j.finishedAt)
	s.mu.Unlock()

	s.emit(Event{Type: EventJobFailed, Job: &snap, Attempt: attempts})
	if s.logger != nil {
		s.logger.Error("job failed",
			zap.String("job_id", j.id),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
}

func (s *Scheduler) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.bus.Publish(e)
}
