// Package keyword provides full-text indexing over processing history.
package keyword

import (
	"context"

	"github.com/hyperjump/docscan/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means exact term matching.
type SearchOptions struct {
	// Fuzziness is the maximum edit distance per query term (1 or 2). Zero disables fuzzy
	// matching. OCR output often carries single-character errors, so 1 is a useful setting.
	Fuzziness int
}

// Document is the searchable projection of a history record.
type Document struct {
	FileName     string `json:"file_name"`
	DocumentType string `json:"document_type"`
	Organization string `json:"organization"`
	FullText     string `json:"full_text"`
	// RecordID is set by the index from the record id and orders search results.
	RecordID     int64  `json:"record_id"`
}

// DocumentFromRecord projects a history record onto its searchable fields.
func DocumentFromRecord(rec *models.HistoryRecord) Document {
	return Document{
		FileName:     rec.FileName,
		DocumentType: rec.Fields.DocumentType,
		Organization: rec.Fields.Organization,
		FullText:     rec.FullText,
	}
}

// Index defines full-text operations keyed by history record id.
type Index interface {
	Index(ctx context.Context, id int64, doc Document) error
	// Rebuild replaces the whole index content with docs.
	Rebuild(ctx context.Context, docs map[int64]Document) error
	// Search returns ids of documents containing every query term, newest first.
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]int64, error)
	Delete(ctx context.Context, id int64) error
	DocCount() (uint64, error)
	Close() error
}
