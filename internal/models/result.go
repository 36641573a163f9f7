package models

import "time"

// HistoryRecord is one persisted, append-only row of processing history.
type HistoryRecord struct {
	ID          int64          `json:"id"`
	FilePath    string         `json:"file_path"`
	FileName    string         `json:"file_name"`
	FileSize    int64          `json:"file_size"`
	ProcessedAt time.Time      `json:"processed_at"`
	Duration    time.Duration  `json:"duration"`
	Fields      DocumentFields `json:"fields"`
	FullText    string         `json:"full_text"`
	Confidence  float64        `json:"confidence"`
	Tags        []string       `json:"tags"`
	Notes       string         `json:"notes,omitempty"`
}

// SaveMetadata carries the facts about a run that are not part of the extraction result.
// A zero ProcessedAt is replaced by the time of the save.
type SaveMetadata struct {
	FileSize    int64         `json:"file_size"`
	Duration    time.Duration `json:"duration"`
	ProcessedAt time.Time     `json:"processed_at,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Notes       string        `json:"notes,omitempty"`
}

// TypeCount is one bucket of the document type distribution.
type TypeCount struct {
	DocumentType string `json:"document_type"`
	Count        int64  `json:"count"`
}

// HistorySummary aggregates the whole history.
type HistorySummary struct {
	TotalDocuments    int64       `json:"total_documents"`
	AverageConfidence float64     `json:"average_confidence"`
	TypeDistribution  []TypeCount `json:"type_distribution"`
}

// Result rebuilds the extraction result a record was saved from.
func (r *HistoryRecord) Result() *ExtractionResult {
	return &ExtractionResult{
		Fields:      r.Fields,
		FullText:    r.FullText,
		Confidence:  r.Confidence,
		ProcessedAt: r.ProcessedAt,
	}
}
