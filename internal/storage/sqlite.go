// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docscan/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		processed_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		document_type TEXT NOT NULL DEFAULT '',
		organization TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		tax_id TEXT NOT NULL DEFAULT '',
		folio TEXT NOT NULL DEFAULT '',
		full_text TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE(file_path, processed_at)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_file_name ON documents(file_name);
	CREATE INDEX IF NOT EXISTS idx_documents_processed_at ON documents(processed_at);
	CREATE INDEX IF NOT EXISTS idx_documents_document_type ON documents(document_type);
	CREATE INDEX IF NOT EXISTS idx_documents_organization ON documents(organization);
	CREATE INDEX IF NOT EXISTS idx_documents_tax_id ON documents(tax_id);
	`
	_, err := db.Exec(schema)
	return err
}

const recordColumns = `id, file_path, file_name, file_size, processed_at, duration_ms,
	document_type, organization, date, location, tax_id, folio,
	full_text, confidence, tags, notes`

// InsertRecord inserts rec and runs afterInsert before committing.
func (s *SQLiteStorage) InsertRecord(ctx context.Context, rec *models.HistoryRecord, afterInsert func(id int64) error) (int64, error) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (file_path, file_name, file_size, processed_at, duration_ms,
			document_type, organization, date, location, tax_id, folio,
			full_text, confidence, tags, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FilePath, rec.FileName, rec.FileSize, rec.ProcessedAt.UnixNano(), rec.Duration.Milliseconds(),
		rec.Fields.DocumentType, rec.Fields.Organization, rec.Fields.Date, rec.Fields.Location,
		rec.Fields.TaxID, rec.Fields.Folio,
		rec.FullText, rec.Confidence, string(tagsJSON), rec.Notes,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read record id: %w", err)
	}

	if afterInsert != nil {
		if err := afterInsert(id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit record: %w", err)
	}
	rec.ID = id
	return id, nil
}

// GetRecord returns a record by id.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id int64) (*models.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM documents WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords returns records matching q, newest first.
func (s *SQLiteStorage) ListRecords(ctx context.Context, q RecordQuery) ([]*models.HistoryRecord, error) {
	if q.RestrictIDs && len(q.IDs) == 0 {
		return []*models.HistoryRecord{}, nil
	}

	var (
		where []string
		args  []interface{}
	)
	if q.RestrictIDs {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	if q.Filter.DocumentType != "" {
		where = append(where, "document_type = ?")
		args = append(args, q.Filter.DocumentType)
	}
	if !q.Filter.From.IsZero() {
		where = append(where, "processed_at >= ?")
		args = append(args, q.Filter.From.UnixNano())
	}
	if !q.Filter.To.IsZero() {
		where = append(where, "processed_at <= ?")
		args = append(args, q.Filter.To.UnixNano())
	}

	query := `SELECT ` + recordColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY processed_at DESC, id DESC"
	if q.Filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := []*models.HistoryRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRecords returns the number of stored records.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Summary aggregates the whole table.
func (s *SQLiteStorage) Summary(ctx context.Context) (*models.HistorySummary, error) {
	sum := &models.HistorySummary{TypeDistribution: []models.TypeCount{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM documents`,
	).Scan(&sum.TotalDocuments, &sum.AverageConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT document_type, COUNT(*) AS n FROM documents
		 GROUP BY document_type ORDER BY n DESC, document_type ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to group records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc models.TypeCount
		if err := rows.Scan(&tc.DocumentType, &tc.Count); err != nil {
			return nil, err
		}
		sum.TypeDistribution = append(sum.TypeDistribution, tc)
	}
	return sum, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.HistoryRecord, error) {
	var (
		rec         models.HistoryRecord
		processedAt int64
		durationMs  int64
		tagsJSON    string
	)
	err := row.Scan(
		&rec.ID, &rec.FilePath, &rec.FileName, &rec.FileSize, &processedAt, &durationMs,
		&rec.Fields.DocumentType, &rec.Fields.Organization, &rec.Fields.Date, &rec.Fields.Location,
		&rec.Fields.TaxID, &rec.Fields.Folio,
		&rec.FullText, &rec.Confidence, &tagsJSON, &rec.Notes,
	)
	if err != nil {
		return nil, err
	}
	rec.ProcessedAt = time.Unix(0, processedAt)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &rec, nil
}
