// Package history persists every completed extraction and answers search and aggregate queries.
//
// The SQLite table is the source of truth. The bleve index is derived from it, written in
// the same logical operation as each insert, and rebuilt when the two drift apart.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/keyword"
	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/storage"
)

var (
	// ErrPersistence wraps every history write or search failure.
	ErrPersistence = errors.New("history persistence error")
	// ErrNotFound reports an unknown record id.
	ErrNotFound = errors.New("history record not found")
)

// maxIndexHits bounds the number of full-text matches considered before SQL filtering.
const maxIndexHits = 10000

// Store is the history store.
type Store struct {
	mu        sync.Mutex
	db        storage.Storage
	index     keyword.Index
	dbPath    string
	indexPath string
	fuzziness int
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithFuzziness enables typo-tolerant full-text matching with the given edit distance.
func WithFuzziness(n int) Option {
	return func(s *Store) { s.fuzziness = n }
}

// Open opens or creates the history database and index and reconciles them.
func Open(ctx context.Context, dbPath, indexPath string, opts ...Option) (*Store, error) {
	db, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if dir := filepath.Dir(indexPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: failed to create index directory: %w", ErrPersistence, err)
		}
	}
	idx, err := keyword.NewBleveIndex(indexPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s := New(db, idx, opts...)
	s.dbPath = dbPath
	s.indexPath = indexPath
	if err := s.reconcile(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New builds a Store over existing storage and index. It does not reconcile them.
func New(db storage.Storage, index keyword.Index, opts ...Option) *Store {
	s := &Store{db: db, index: index, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save appends one record for result and indexes it. Both writes succeed or neither does.
func (s *Store) Save(ctx context.Context, path string, result *models.ExtractionResult, meta models.SaveMetadata) (int64, error) {
	if result == nil {
		return 0, fmt.Errorf("%w: nil result for %s", ErrPersistence, path)
	}

	processedAt := meta.ProcessedAt
	if processedAt.IsZero() {
		processedAt = s.now()
	}
	rec := &models.HistoryRecord{
		FilePath:    path,
		FileName:    filepath.Base(path),
		FileSize:    meta.FileSize,
		ProcessedAt: processedAt,
		Duration:    meta.Duration,
		Fields:      result.Fields,
		FullText:    result.FullText,
		Confidence:  result.Confidence,
		Tags:        meta.Tags,
		Notes:       meta.Notes,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var indexedID int64
	id, err := s.db.InsertRecord(ctx, rec, func(id int64) error {
		if err := s.index.Index(ctx, id, keyword.DocumentFromRecord(rec)); err != nil {
			return fmt.Errorf("failed to index record: %w", err)
		}
		indexedID = id
		return nil
	})
	if err != nil {
		if indexedID != 0 {
			if delErr := s.index.Delete(ctx, indexedID); delErr != nil && s.logger != nil {
				s.logger.Warn("failed to remove orphan index entry",
					zap.Int64("id", indexedID), zap.Error(delErr))
			}
		}
		return 0, fmt.Errorf("%w: save %s: %w", ErrPersistence, path, err)
	}

	if s.logger != nil {
		s.logger.Debug("history record saved",
			zap.Int64("id", id),
			zap.String("path", path),
			zap.String("document_type", rec.Fields.DocumentType))
	}
	return id, nil
}

// Search returns records newest first. A non-empty query restricts the results to records
// whose indexed fields contain every query term; filter narrows by type and date.
func (s *Store) Search(ctx context.Context, query string, filter models.HistoryFilter) ([]*models.HistoryRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid filter: %w", ErrPersistence, err)
	}

	q := storage.RecordQuery{Filter: filter}
	if query = strings.TrimSpace(query); query != "" {
		ids, err := s.matchIDs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("%w: search %q: %w", ErrPersistence, query, err)
		}
		q.IDs = ids
		q.RestrictIDs = true
	}

	recs, err := s.db.ListRecords(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return recs, nil
}

func (s *Store) matchIDs(ctx context.Context, query string) ([]int64, error) {
	count, err := s.index.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []int64{}, nil
	}
	size := int(count)
	if size > maxIndexHits {
		size = maxIndexHits
	}
	var opts *keyword.SearchOptions
	if s.fuzziness > 0 {
		opts = &keyword.SearchOptions{Fuzziness: s.fuzziness}
	}
	return s.index.Search(ctx, query, size, opts)
}

// Recent returns the newest records. A non-positive limit uses models.DefaultRecentLimit.
func (s *Store) Recent(ctx context.Context, limit int) ([]*models.HistoryRecord, error) {
	if limit <= 0 {
		limit = models.DefaultRecentLimit
	}
	return s.Search(ctx, "", models.HistoryFilter{Limit: limit})
}

// Summary aggregates the whole history.
func (s *Store) Summary(ctx context.Context) (*models.HistorySummary, error) {
	sum, err := s.db.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return sum, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.HistoryRecord, error) {
	rec, err := s.db.GetRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return rec, nil
}

// Reindex rebuilds the full-text index from the primary table.
func (s *Store) Reindex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reindexLocked(ctx)
}

func (s *Store) reindexLocked(ctx context.Context) error {
	recs, err := s.db.ListRecords(ctx, storage.RecordQuery{})
	if err != nil {
		return fmt.Errorf("%w: reindex: %w", ErrPersistence, err)
	}
	docs := make(map[int64]keyword.Document, len(recs))
	for _, rec := range recs {
		docs[rec.ID] = keyword.DocumentFromRecord(rec)
	}
	if err := s.index.Rebuild(ctx, docs); err != nil {
		return fmt.Errorf("%w: reindex: %w", ErrPersistence, err)
	}
	if s.logger != nil {
		s.logger.Info("history index rebuilt", zap.Int("records", len(docs)))
	}
	return nil
}

// reconcile rebuilds the index when its document count differs from the table.
func (s *Store) reconcile(ctx context.Context) error {
	rows, err := s.db.CountRecords(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	indexed, err := s.index.DocCount()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if uint64(rows) == indexed {
		return nil
	}
	if s.logger != nil {
		s.logger.Warn("history index out of sync",
			zap.Int64("rows", rows), zap.Uint64("indexed", indexed))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reindexLocked(ctx)
}

// DiskUsage returns the bytes used by the database and index. It is zero for a Store
// built with New.
func (s *Store) DiskUsage() (int64, error) {
	if s.dbPath == "" && s.indexPath == "" {
		return 0, nil
	}
	return storage.HistoryDiskUsage(s.dbPath, s.indexPath)
}

// Close closes the index and the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.index.Close(), s.db.Close())
}
