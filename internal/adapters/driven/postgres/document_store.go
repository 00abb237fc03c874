package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements driven.DocumentStore using PostgreSQL
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, content_hash, storage_locator, text_locator, filename, mime_type,
	size_bytes, page_count, type, manufacturer, products, language, status, progress,
	error, pass, supersedes, superseded_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// documentRow holds the scan destinations of documentColumns
type documentRow struct {
	doc      domain.Document
	products pq.StringArray
}

func (r *documentRow) dest() []any {
	return []any{
		&r.doc.ID,
		&r.doc.ContentHash,
		&r.doc.StorageLocator,
		&r.doc.TextLocator,
		&r.doc.Filename,
		&r.doc.MimeType,
		&r.doc.SizeBytes,
		&r.doc.PageCount,
		&r.doc.Type,
		&r.doc.Manufacturer,
		&r.products,
		&r.doc.Language,
		&r.doc.Status,
		&r.doc.Progress,
		&r.doc.Error,
		&r.doc.Pass,
		&r.doc.Supersedes,
		&r.doc.SupersededBy,
		&r.doc.CreatedAt,
		&r.doc.UpdatedAt,
	}
}

func (r *documentRow) document() *domain.Document {
	doc := r.doc
	doc.Products = []string(r.products)
	return &doc
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var r documentRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.document(), nil
}

// CreateIfAbsent inserts the document unless its content hash exists. The
// unique index on content_hash arbitrates concurrent uploads.
func (s *DocumentStore) CreateIfAbsent(ctx context.Context, doc *domain.Document) (*domain.Document, bool, error) {
	if doc.ID == "" {
		doc.ID = domain.GenerateID()
	}
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING ` + documentColumns

	row := s.db.QueryRowContext(ctx, query,
		doc.ID,
		doc.ContentHash,
		doc.StorageLocator,
		doc.TextLocator,
		doc.Filename,
		doc.MimeType,
		doc.SizeBytes,
		doc.PageCount,
		doc.Type,
		doc.Manufacturer,
		pq.Array(nonNil(doc.Products)),
		doc.Language,
		doc.Status,
		doc.Progress,
		doc.Error,
		doc.Pass,
		doc.Supersedes,
		doc.SupersededBy,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	created, err := scanDocument(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert document: %w", err)
	}

	existing, err := s.GetByHash(ctx, doc.ContentHash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

// GetByHash retrieves a document by content hash
func (s *DocumentStore) GetByHash(ctx context.Context, contentHash string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE content_hash = $1`, contentHash)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document by hash: %w", err)
	}
	return doc, nil
}

// List retrieves documents matching the filter, newest first
func (s *DocumentStore) List(ctx context.Context, filter driven.DocumentFilter) ([]*domain.Document, error) {
	var where []string
	var args []any
	argIndex := 1

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, filter.Status)
		argIndex++
	}
	if filter.Type != "" {
		where = append(where, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, filter.Type)
		argIndex++
	}
	if filter.Manufacturer != "" {
		where = append(where, fmt.Sprintf("lower(manufacturer) = lower($%d)", argIndex))
		args = append(args, filter.Manufacturer)
		argIndex++
	}
	if !filter.UpdatedBefore.IsZero() {
		where = append(where, fmt.Sprintf("updated_at < $%d", argIndex))
		args = append(args, filter.UpdatedBefore)
		argIndex++
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.UpdatedBefore.IsZero() {
		query += " ORDER BY created_at DESC, id"
	} else {
		query += " ORDER BY updated_at ASC, id"
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// UpdateProgress applies only while the document is on the given pass and
// not failed. Progress never moves backwards within a pass.
func (s *DocumentStore) UpdateProgress(ctx context.Context, id string, pass int, status domain.DocumentStatus, progress int, errMsg string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, progress = GREATEST(progress, $2), error = $3, updated_at = $4
		WHERE id = $5 AND pass = $6 AND status <> $7
	`, status, progress, errMsg, time.Now(), id, pass, domain.DocumentStatusFailed)
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RecordExtraction stores the page count and extracted text locator
func (s *DocumentStore) RecordExtraction(ctx context.Context, id string, pages int, textLocator string) error {
	return s.exec(ctx, `
		UPDATE documents SET page_count = $1, text_locator = $2, updated_at = $3 WHERE id = $4
	`, pages, textLocator, time.Now(), id)
}

// StartPass increments the pass and resets the document to pending
func (s *DocumentStore) StartPass(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET pass = pass + 1, status = $1, progress = 0, error = '', updated_at = $2
		WHERE id = $3
		RETURNING `+documentColumns,
		domain.DocumentStatusPending, time.Now(), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("start pass: %w", err)
	}
	return doc, nil
}

// Supersede links both documents in one transaction
func (s *DocumentStore) Supersede(ctx context.Context, newID, oldID string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		for _, stmt := range []struct {
			query string
			args  []any
		}{
			{`UPDATE documents SET supersedes = $1, updated_at = $2 WHERE id = $3`, []any{oldID, now, newID}},
			{`UPDATE documents SET superseded_by = $1, updated_at = $2 WHERE id = $3`, []any{newID, now, oldID}},
		} {
			result, err := tx.ExecContext(ctx, stmt.query, stmt.args...)
			if err != nil {
				return fmt.Errorf("supersede: %w", err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return domain.ErrNotFound
			}
		}
		return nil
	})
}

// Count returns total document count
func (s *DocumentStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (s *DocumentStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
