// Package storage defines the persistence interface for processing history.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/docscan/internal/models"
)

// ErrNotFound reports a history record id that does not exist.
var ErrNotFound = errors.New("record not found")

// RecordQuery selects history records. When RestrictIDs is set only rows whose id is in
// IDs are considered, and an empty IDs selects nothing.
type RecordQuery struct {
	IDs         []int64
	RestrictIDs bool
	Filter      models.HistoryFilter
}

// Storage defines append-only history persistence.
type Storage interface {
	// InsertRecord inserts rec inside a transaction. afterInsert, when non-nil, runs with
	// the new id before commit; an error from it rolls the insert back.
	InsertRecord(ctx context.Context, rec *models.HistoryRecord, afterInsert func(id int64) error) (int64, error)
	GetRecord(ctx context.Context, id int64) (*models.HistoryRecord, error)
	// ListRecords returns matching records newest first.
	ListRecords(ctx context.Context, q RecordQuery) ([]*models.HistoryRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	Summary(ctx context.Context) (*models.HistorySummary, error)
	Close() error
}
