package scheduler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hyperjump/docscan/internal/models"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, true
	}
	return "", false
}

// SubmitOptions configures a submitted job. Higher Priority runs first.
type SubmitOptions struct {
	Priority       int      `json:"priority"`
	ForceReprocess bool     `json:"force_reprocess,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// JobSnapshot is a point-in-time copy of a job, safe to hand to other goroutines.
type JobSnapshot struct {
	ID          string                   `json:"id"`
	FilePath    string                   `json:"file_path"`
	FileName    string                   `json:"file_name"`
	Status      Status                   `json:"status"`
	Priority    int                      `json:"priority"`
	Progress    float64                  `json:"progress"`
	Result      *models.ExtractionResult `json:"result,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Attempts    int                      `json:"attempts"`
	SubmittedAt time.Time                `json:"submitted_at"`
	StartedAt   time.Time                `json:"started_at,omitempty"`
	FinishedAt  time.Time                `json:"finished_at,omitempty"`
	Duration    time.Duration            `json:"duration"`
}

type job struct {
	id          string
	path        string
	opts        SubmitOptions
	status      Status
	progress    float64
	result      *models.ExtractionResult
	err         string
	attempts    int
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
	cancel      context.CancelFunc
}

// duration is finishedAt - startedAt, or now - startedAt while the job runs.
func (j *job) duration(now time.Time) time.Duration {
	switch {
	case j.startedAt.IsZero():
		return 0
	case j.finishedAt.IsZero():
		return now.Sub(j.startedAt)
	default:
		return j.finishedAt.Sub(j.startedAt)
	}
}

func (j *job) snapshot(now time.Time) JobSnapshot {
	return JobSnapshot{
		ID:          j.id,
		FilePath:    j.path,
		FileName:    filepath.Base(j.path),
		Status:      j.status,
		Priority:    j.opts.Priority,
		Progress:    j.progress,
		Result:      j.result,
		Error:       j.err,
		Attempts:    j.attempts,
		SubmittedAt: j.submittedAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
		Duration:    j.duration(now),
	}
}
