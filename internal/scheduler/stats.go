package scheduler

import (
	"time"

	"github.com/hyperjump/docscan/internal/models"
)

// Statistics aggregates every job the scheduler knows about.
// SuccessRate is completed/(completed+failed)*100, and 0 before any job has finished.
type Statistics struct {
	Total           int           `json:"total"`
	Pending         int           `json:"pending"`
	Processing      int           `json:"processing"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	Cancelled       int           `json:"cancelled"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	SuccessRate     float64       `json:"success_rate"`
}

func computeStatistics(jobs map[string]*job, now time.Time) Statistics {
	var st Statistics
	for _, j := range jobs {
		st.Total++
		switch j.status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
			st.TotalDuration += j.duration(now)
		case StatusFailed:
			st.Failed++
			st.TotalDuration += j.duration(now)
		case StatusCancelled:
			st.Cancelled++
		}
	}
	if finished := st.Completed + st.Failed; finished > 0 {
		st.AverageDuration = st.TotalDuration / time.Duration(finished)
		st.SuccessRate = float64(st.Completed) / float64(finished) * 100
	}
	return st
}

// ExportedResult is one completed job in an export.
type ExportedResult struct {
	FileName string                   `json:"file_name"`
	FilePath string                   `json:"file_path"`
	Duration time.Duration            `json:"duration"`
	Result   *models.ExtractionResult `json:"result"`
}

// ExportSnapshot is every completed job plus the aggregate statistics at Timestamp.
type ExportSnapshot struct {
	Timestamp  time.Time        `json:"timestamp"`
	Statistics Statistics       `json:"statistics"`
	Results    []ExportedResult `json:"results"`
}
