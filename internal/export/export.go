// Package export renders scheduler result snapshots as JSON or XLSX.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/scheduler"
	"github.com/hyperjump/docscan/pkg/utils"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// maxCellText keeps full text under the XLSX per-cell limit of 32767 characters.
const maxCellText = 32000

// ParseFormat accepts "json" or "xlsx", case-insensitively. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// FormatForPath picks the format from a file extension, defaulting to JSON.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return FormatXLSX
	}
	return FormatJSON
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// Write encodes snap to w in format f.
func Write(w io.Writer, f Format, snap scheduler.ExportSnapshot) error {
	if f == FormatXLSX {
		return WriteXLSX(w, snap)
	}
	return WriteJSON(w, snap)
}

// WriteJSON writes snap as indented JSON.
func WriteJSON(w io.Writer, snap scheduler.ExportSnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// WriteXLSX writes a workbook with a Results sheet, one row per completed job, and a
// Statistics sheet.
func WriteXLSX(w io.Writer, snap scheduler.ExportSnapshot) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const results = "Results"
	if err := f.SetSheetName("Sheet1", results); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	headers := []string{"File Name", "File Path"}
	for _, field := range models.TrackedFields {
		headers = append(headers, fieldHeader(field))
	}
	headers = append(headers, "Confidence", "Method", "Duration (s)", "Full Text")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(results, cell, h)
	}

	for i, r := range snap.Results {
		row := i + 2
		col := 1
		write := func(v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(results, cell, v)
			col++
		}

		write(r.FileName)
		write(r.FilePath)
		for _, field := range models.TrackedFields {
			write(r.Result.Field(field))
		}
		if r.Result != nil {
			write(r.Result.Confidence)
			write(string(r.Result.Method))
		} else {
			write("")
			write("")
		}
		write(r.Duration.Seconds())
		if r.Result != nil {
			write(utils.Truncate(r.Result.FullText, maxCellText))
		}
	}

	_ = f.SetColWidth(results, "A", "A", 28)
	_ = f.SetColWidth(results, "B", "B", 48)
	_ = f.SetColWidth(results, "C", "H", 22)
	_ = f.SetColWidth(results, "L", "L", 80)

	const stats = "Statistics"
	if _, err := f.NewSheet(stats); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	st := snap.Statistics
	rows := [][]any{
		{"Exported At", snap.Timestamp.Format("2006-01-02 15:04:05")},
		{"Total", st.Total},
		{"Pending", st.Pending},
		{"Processing", st.Processing},
		{"Completed", st.Completed},
		{"Failed", st.Failed},
		{"Cancelled", st.Cancelled},
		{"Total Duration (s)", st.TotalDuration.Seconds()},
		{"Average Duration (s)", st.AverageDuration.Seconds()},
		{"Success Rate (%)", st.SuccessRate},
	}
	for i, kv := range rows {
		for j, v := range kv {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(stats, cell, v)
		}
	}
	_ = f.SetColWidth(stats, "A", "A", 24)
	_ = f.SetColWidth(stats, "B", "B", 22)

	idx, _ := f.GetSheetIndex(results)
	f.SetActiveSheet(idx)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func fieldHeader(f models.Field) string {
	switch f {
	case models.FieldDocumentType:
		return "Document Type"
	case models.FieldOrganization:
		return "Organization"
	case models.FieldDate:
		return "Date"
	case models.FieldLocation:
		return "Location"
	case models.FieldTaxID:
		return "Tax ID"
	case models.FieldFolio:
		return "Folio"
	}
	return string(f)
}
