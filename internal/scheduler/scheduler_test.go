package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/service"
)

type fakeExtractor struct {
	mu       sync.Mutex
	failures map[string]int
	calls    []string
	block    chan struct{}
	// slow blocks only the listed paths until their channel closes.
	slow map[string]chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, path string, opts service.ExtractOptions) (*models.ExtractionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	fail := f.failures[path] > 0
	if fail {
		f.failures[path]--
	}
	f.mu.Unlock()

	if opts.OnProgress != nil {
		opts.OnProgress(models.ProgressUpdate{Stage: models.StageRecognize, Progress: 0.5, Page: 1, TotalPages: 2})
	}
	gate := f.block
	if ch, ok := f.slow[path]; ok {
		gate = ch
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("recognition failed")
	}
	return &models.ExtractionResult{
		Fields:     models.DocumentFields{DocumentType: "Acta"},
		FullText:   path,
		Confidence: 0.85,
	}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []models.SaveMetadata
	paths []string
}

func (r *fakeRecorder) Save(ctx context.Context, path string, result *models.ExtractionResult, meta models.SaveMetadata) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.saved = append(r.saved, meta)
	return int64(len(r.saved)), nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

// eventLog records every event published by a scheduler.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// startedSignal returns a channel receiving the id of each started job.
func startedSignal(s *Scheduler) <-chan string {
	ch := make(chan string, 16)
	s.Subscribe(func(e Event) {
		if e.Type == EventJobStarted {
			ch <- e.Job.ID
		}
	})
	return ch
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestScheduler_DispatchesByPriority(t *testing.T) {
	ext := &fakeExtractor{}
	s := New(ext, Config{MaxConcurrent: 1})
	log := &eventLog{}
	s.Subscribe(log.handle)

	s.Pause()
	var ids []string
	for _, p := range []int{1, 5, 1} {
		id, err := s.Submit("/inbox/doc.pdf", SubmitOptions{Priority: p})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if ext.callCount() != 0 {
		t.Fatal("paused scheduler dispatched a job")
	}
	s.Resume()
	waitIdle(t, s)

	started := log.ofType(EventJobStarted)
	want := []string{ids[1], ids[0], ids[2]}
	if len(started) != len(want) {
		t.Fatalf("started %d jobs, want %d", len(started), len(want))
	}
	for i, e := range started {
		if e.Job.ID != want[i] {
			t.Errorf("dispatch %d = %s, want %s", i, e.Job.ID, want[i])
		}
	}
	if got := len(log.ofType(EventBatchCompleted)); got == 0 {
		t.Error("no batch:completed event")
	}
}

func TestScheduler_RetriesThenCompletes(t *testing.T) {
	ext := &fakeExtractor{failures: map[string]int{"/inbox/a.pdf": 2}}
	rec := &fakeRecorder{}
	s := New(ext, Config{MaxConcurrent: 2, RetryAttempts: 2, RetryDelay: time.Millisecond}, WithRecorder(rec))
	log := &eventLog{}
	s.Subscribe(log.handle)

	id, err := s.Submit("/inbox/a.pdf", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitIdle(t, s)

	job, err := s.Job(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", job.Status, job.Error)
	}
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", job.Attempts)
	}
	if job.Progress != 1 {
		t.Errorf("Progress = %v, want 1", job.Progress)
	}

	retries := log.ofType(EventJobRetry)
	if len(retries) != 2 {
		t.Fatalf("retry events = %d, want 2", len(retries))
	}
	for i, e := range retries {
		if e.Attempt != i+1 || e.MaxAttempts != 2 {
			t.Errorf("retry %d: attempt %d of %d", i, e.Attempt, e.MaxAttempts)
		}
	}
	if len(log.ofType(EventJobProgress)) == 0 {
		t.Error("progress was not re-emitted")
	}
	if rec.count() != 1 {
		t.Errorf("recorded %d results, want 1", rec.count())
	}
}

func TestScheduler_FailsAfterRetryBudget(t *testing.T) {
	ext := &fakeExtractor{failures: map[string]int{"/inbox/bad.pdf": 10}}
	rec := &fakeRecorder{}
	s := New(ext, Config{MaxConcurrent: 1, RetryAttempts: 2, RetryDelay: time.Millisecond}, WithRecorder(rec))
	log := &eventLog{}
	s.Subscribe(log.handle)

	id, err := s.Submit("/inbox/bad.pdf", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitIdle(t, s)

	job, _ := s.Job(id)
	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error != "recognition failed" {
		t.Errorf("Error = %q", job.Error)
	}
	if job.Result != nil {
		t.Error("failed job carries a result")
	}
	if ext.callCount() != 3 {
		t.Errorf("extract calls = %d, want 3", ext.callCount())
	}
	failed := log.ofType(EventJobFailed)
	if len(failed) != 1 || failed[0].Attempt != 3 {
		t.Errorf("job:failed events = %+v", failed)
	}
	if rec.count() != 0 {
		t.Error("failed job was recorded")
	}
}

func TestScheduler_CancelPending(t *testing.T) {
	ext := &fakeExtractor{}
	s := New(ext, Config{MaxConcurrent: 1})
	s.Pause()

	id, err := s.Submit("/inbox/a.pdf", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Cancel(id) {
		t.Fatal("Cancel(pending) = false")
	}
	if s.Cancel(id) {
		t.Error("Cancel(cancelled) = true")
	}
	if s.Cancel("missing") {
		t.Error("Cancel(unknown) = true")
	}

	s.Resume()
	waitIdle(t, s)
	if ext.callCount() != 0 {
		t.Errorf("cancelled job ran %d times", ext.callCount())
	}
	job, _ := s.Job(id)
	if job.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestScheduler_CancelProcessingDiscardsResult(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	rec := &fakeRecorder{}
	s := New(ext, Config{MaxConcurrent: 1}, WithRecorder(rec))
	started := startedSignal(s)

	id, err := s.Submit("/inbox/a.pdf", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	receive(t, started)

	if !s.Cancel(id) {
		t.Fatal("Cancel(processing) = false")
	}
	job, _ := s.Job(id)
	if job.Status != StatusCancelled {
		t.Fatalf("status = %s immediately after cancel", job.Status)
	}

	close(ext.block)
	waitIdle(t, s)

	job, _ = s.Job(id)
	if job.Status != StatusCancelled || job.Result != nil {
		t.Errorf("cancelled job ended as %s with result %v", job.Status, job.Result)
	}
	if rec.count() != 0 {
		t.Error("result of cancelled job was recorded")
	}
}

func TestScheduler_PreemptOnCancel(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	s := New(ext, Config{MaxConcurrent: 1, RetryAttempts: 3, PreemptOnCancel: true})
	started := startedSignal(s)

	id, err := s.Submit("/inbox/a.pdf", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	receive(t, started)
	s.Cancel(id)

	// The blocked extraction only returns through its context.
	waitIdle(t, s)
	if ext.callCount() != 1 {
		t.Errorf("extract calls = %d, want 1", ext.callCount())
	}
	job, _ := s.Job(id)
	if job.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestScheduler_CancelAll(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	s := New(ext, Config{MaxConcurrent: 1})
	log := &eventLog{}
	s.Subscribe(log.handle)
	started := startedSignal(s)

	ids, err := s.SubmitMany([]string{"/a.pdf", "/b.pdf", "/c.pdf"}, SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	receive(t, started)

	s.CancelAll()
	if !s.Paused() {
		t.Error("CancelAll did not pause")
	}
	close(ext.block)
	waitIdle(t, s)

	for _, id := range ids {
		job, _ := s.Job(id)
		if job.Status != StatusCancelled {
			t.Errorf("job %s status = %s, want cancelled", id, job.Status)
		}
	}
	if ext.callCount() != 1 {
		t.Errorf("extract calls = %d, want 1", ext.callCount())
	}
	if len(log.ofType(EventBatchCancelled)) != 1 {
		t.Error("missing batch:cancelled event")
	}
	if got := len(log.ofType(EventJobCancelled)); got != 3 {
		t.Errorf("job:cancelled events = %d, want 3", got)
	}
}

func TestScheduler_ExportAndClearFinished(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pdf")
	if err := os.WriteFile(good, []byte("12345"), 0644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.pdf")

	ext := &fakeExtractor{failures: map[string]int{bad: 1}}
	rec := &fakeRecorder{}
	s := New(ext, Config{MaxConcurrent: 2}, WithRecorder(rec))
	if _, err := s.SubmitMany([]string{good, bad}, SubmitOptions{Tags: []string{"lote"}, Notes: "n"}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, s)

	stats := s.Statistics()
	if stats.Total != 2 || stats.Completed != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.SuccessRate != 50 {
		t.Errorf("SuccessRate = %v, want 50", stats.SuccessRate)
	}

	snap := s.Export()
	if len(snap.Results) != 1 || snap.Results[0].FilePath != good || snap.Results[0].FileName != "good.pdf" {
		t.Errorf("export results = %+v", snap.Results)
	}
	if snap.Statistics.Total != 2 {
		t.Errorf("export statistics = %+v", snap.Statistics)
	}

	if rec.count() != 1 {
		t.Fatalf("recorded %d, want 1", rec.count())
	}
	if rec.saved[0].FileSize != 5 || rec.saved[0].Notes != "n" || len(rec.saved[0].Tags) != 1 {
		t.Errorf("recorded metadata = %+v", rec.saved[0])
	}

	if got := len(s.JobsByStatus(StatusFailed)); got != 1 {
		t.Errorf("JobsByStatus(failed) = %d", got)
	}
	if n := s.ClearFinished(); n != 2 {
		t.Errorf("ClearFinished = %d, want 2", n)
	}
	if len(s.Jobs()) != 0 {
		t.Errorf("Jobs after clear = %d", len(s.Jobs()))
	}
	if _, err := s.Job("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Job(missing) err = %v, want ErrNotFound", err)
	}
}

func TestScheduler_BoundedConcurrency(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	s := New(ext, Config{MaxConcurrent: 2})
	started := startedSignal(s)

	if _, err := s.SubmitMany([]string{"/a", "/b", "/c", "/d"}, SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	receive(t, started)
	receive(t, started)

	select {
	case id := <-started:
		t.Fatalf("third job %s started while two were in flight", id)
	case <-time.After(50 * time.Millisecond):
	}
	if st := s.Statistics(); st.Processing != 2 || st.Pending != 2 {
		t.Errorf("stats = %+v, want 2 processing and 2 pending", st)
	}

	close(ext.block)
	waitIdle(t, s)
	if st := s.Statistics(); st.Completed != 4 {
		t.Errorf("completed = %d, want 4", st.Completed)
	}
}

func TestScheduler_ResumeFillsFreeSlotWhileJobRuns(t *testing.T) {
	release := make(chan struct{})
	ext := &fakeExtractor{slow: map[string]chan struct{}{"/slow.pdf": release}}
	s := New(ext, Config{MaxConcurrent: 2})
	started := startedSignal(s)
	defer close(release)

	slowID, err := s.Submit("/slow.pdf", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := receive(t, started); got != slowID {
		t.Fatalf("started %s, want the slow job", got)
	}

	s.Pause()
	nextID, err := s.Submit("/next.png", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-started:
		t.Fatalf("job %s started while paused", id)
	case <-time.After(50 * time.Millisecond):
	}

	s.Resume()
	if got := receive(t, started); got != nextID {
		t.Fatalf("started %s, want %s", got, nextID)
	}
	waitJob(t, s, nextID, StatusCompleted)
	if j, _ := s.Job(slowID); j.Status != StatusProcessing {
		t.Errorf("slow job status = %s, want processing", j.Status)
	}
}

func TestScheduler_SubmitWhileDrainingStartsImmediately(t *testing.T) {
	release := make(chan struct{})
	ext := &fakeExtractor{slow: map[string]chan struct{}{"/slow.pdf": release}}
	s := New(ext, Config{MaxConcurrent: 3})
	started := startedSignal(s)
	log := &eventLog{}
	s.Subscribe(log.handle)

	if _, err := s.Submit("/slow.pdf", SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	receive(t, started)

	// The queue is empty and the slow job holds one of three slots.
	fastID, err := s.Submit("/fast.png", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := receive(t, started); got != fastID {
		t.Fatalf("started %s, want %s", got, fastID)
	}
	waitJob(t, s, fastID, StatusCompleted)

	close(release)
	waitIdle(t, s)
	if got := len(log.ofType(EventBatchStarted)); got != 1 {
		t.Errorf("batch:started emitted %d times, want one batch", got)
	}
	if st := s.Statistics(); st.Completed != 2 {
		t.Errorf("completed = %d, want 2", st.Completed)
	}
}

func TestScheduler_JobAddedPrecedesJobStarted(t *testing.T) {
	ext := &fakeExtractor{}
	s := New(ext, Config{MaxConcurrent: 4})
	log := &eventLog{}
	s.Subscribe(log.handle)

	var ids []string
	for i := 0; i < 20; i++ {
		id, err := s.Submit(filepath.Join("/inbox", strconv.Itoa(i)+".pdf"), SubmitOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	waitIdle(t, s)

	log.mu.Lock()
	defer log.mu.Unlock()
	added := make(map[string]bool)
	for _, e := range log.events {
		switch e.Type {
		case EventJobAdded:
			added[e.Job.ID] = true
		case EventJobStarted:
			if !added[e.Job.ID] {
				t.Errorf("job %s started before job:added", e.Job.ID)
			}
		}
	}
	if len(added) != len(ids) {
		t.Errorf("job:added for %d jobs, want %d", len(added), len(ids))
	}
}

// waitJob polls until job id reaches want.
func waitJob(t *testing.T, s *Scheduler, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, err := s.Job(id); err == nil && j.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := s.Job(id)
	t.Fatalf("job %s status = %s, want %s", id, j.Status, want)
}

func TestScheduler_Close(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	s := New(ext, Config{MaxConcurrent: 1})
	started := startedSignal(s)

	if _, err := s.Submit("/a.pdf", SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	receive(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Submit("/b.pdf", SubmitOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close err = %v, want ErrClosed", err)
	}
}

func TestComputeStatistics(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Minute)

	if st := computeStatistics(map[string]*job{}, now); st.SuccessRate != 0 || st.AverageDuration != 0 {
		t.Errorf("empty stats = %+v", st)
	}

	jobs := map[string]*job{
		"a": {status: StatusCompleted, startedAt: start, finishedAt: start.Add(2 * time.Second)},
		"b": {status: StatusCompleted, startedAt: start, finishedAt: start.Add(4 * time.Second)},
		"c": {status: StatusFailed, startedAt: start, finishedAt: start.Add(6 * time.Second)},
		"d": {status: StatusCancelled, startedAt: start, finishedAt: start.Add(time.Hour)},
		"e": {status: StatusPending},
		"f": {status: StatusProcessing, startedAt: start},
	}
	st := computeStatistics(jobs, now)
	if st.Total != 6 || st.Completed != 2 || st.Failed != 1 || st.Cancelled != 1 || st.Pending != 1 || st.Processing != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.TotalDuration != 12*time.Second {
		t.Errorf("TotalDuration = %v, want 12s", st.TotalDuration)
	}
	if st.AverageDuration != 4*time.Second {
		t.Errorf("AverageDuration = %v, want 4s", st.AverageDuration)
	}
	if st.SuccessRate < 66.66 || st.SuccessRate > 66.67 {
		t.Errorf("SuccessRate = %v", st.SuccessRate)
	}
}

func TestParseStatus(t *testing.T) {
	if st, ok := ParseStatus("failed"); !ok || st != StatusFailed {
		t.Errorf("ParseStatus(failed) = %v, %v", st, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Error("ParseStatus(bogus) ok")
	}
}
