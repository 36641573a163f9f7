// Package cli renders docscan results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/docscan/internal/compare"
	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/scheduler"
	"github.com/hyperjump/docscan/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteHistory writes history records to w.
func WriteHistory(w io.Writer, recs []*models.HistoryRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, recs)
	}
	fmt.Fprintf(w, "\n%d record(s)\n\n", len(recs))
	for _, rec := range recs {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d %s  (%s, confidence %.2f)\n",
			rec.ID, rec.FileName, rec.ProcessedAt.Format("2006-01-02 15:04:05"), rec.Confidence)
		writeFields(w, rec.Fields)
		if len(rec.Tags) > 0 {
			fmt.Fprintf(w, "  tags:          %s\n", strings.Join(rec.Tags, ", "))
		}
		if rec.FullText != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(strings.Join(strings.Fields(rec.FullText), " "), 200))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeFields(w io.Writer, f models.DocumentFields) {
	for _, field := range models.TrackedFields {
		fmt.Fprintf(w, "  %-14s %s\n", string(field)+":", f.Get(field))
	}
}

// WriteSummary writes the history aggregate to w.
func WriteSummary(w io.Writer, sum *models.HistorySummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, sum)
	}
	fmt.Fprintf(w, "total_documents:     %d\n", sum.TotalDocuments)
	fmt.Fprintf(w, "average_confidence:  %.2f\n", sum.AverageConfidence)
	if len(sum.TypeDistribution) > 0 {
		fmt.Fprintln(w, "\n# by document type")
		for _, tc := range sum.TypeDistribution {
			fmt.Fprintf(w, "%6d  %s\n", tc.Count, tc.DocumentType)
		}
	}
	return nil
}

// WriteStatistics writes batch statistics to w.
func WriteStatistics(w io.Writer, st scheduler.Statistics, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "total:             %d\n", st.Total)
	fmt.Fprintf(w, "completed:         %d\n", st.Completed)
	fmt.Fprintf(w, "failed:            %d\n", st.Failed)
	fmt.Fprintf(w, "cancelled:         %d\n", st.Cancelled)
	if st.Pending > 0 || st.Processing > 0 {
		fmt.Fprintf(w, "pending:           %d\n", st.Pending)
		fmt.Fprintf(w, "processing:        %d\n", st.Processing)
	}
	fmt.Fprintf(w, "total_duration:    %s\n", st.TotalDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "average_duration:  %s\n", st.AverageDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "success_rate:      %.1f%%\n", st.SuccessRate)
	return nil
}

// WriteJobs writes one line per job to w.
func WriteJobs(w io.Writer, jobs []scheduler.JobSnapshot, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, jobs)
	}
	for _, j := range jobs {
		line := fmt.Sprintf("%-10s %-40s %8s", j.Status, utils.Truncate(j.FileName, 37), j.Duration.Round(time.Millisecond))
		switch {
		case j.Result != nil:
			line += "  " + j.Result.Fields.DocumentType
		case j.Error != "":
			line += "  error: " + j.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// WriteComparison writes a comparison result to w.
func WriteComparison(w io.Writer, res *compare.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "similarity:    %.1f%%\n", res.Similarity*100)
	fmt.Fprintf(w, "change_score:  %.1f\n", res.ChangeScore)
	fmt.Fprintf(w, "status:        %s\n", res.Summary.Status)
	fmt.Fprintf(w, "words:         +%d -%d =%d\n",
		res.Text.Stats.Added, res.Text.Stats.Removed, res.Text.Stats.Unchanged)

	fields := make([]models.Field, 0, len(res.Fields))
	for f := range res.Fields {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	fmt.Fprintln(w, "\n# fields")
	for _, f := range fields {
		fc := res.Fields[f]
		mark := " "
		if fc.Changed {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-14s %q -> %q (%.2f)\n", mark, f, fc.ValueA, fc.ValueB, fc.Similarity)
	}
	if len(res.Summary.Recommendations) > 0 {
		fmt.Fprintln(w, "\n# recommendations")
		for _, r := range res.Summary.Recommendations {
			fmt.Fprintf(w, "- %s\n", r)
		}
	}
	return nil
}
