package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/normalize"
)

// Verify interface compliance
var _ driven.ErrorCodeStore = (*ErrorCodeStore)(nil)

// ErrorCodeStore implements driven.ErrorCodeStore using PostgreSQL. Entries
// are unique on lower-cased manufacturer and normalized code.
type ErrorCodeStore struct {
	db *DB
}

// NewErrorCodeStore creates a new ErrorCodeStore
func NewErrorCodeStore(db *DB) *ErrorCodeStore {
	return &ErrorCodeStore{db: db}
}

const errorCodeColumns = `id, manufacturer, code, normalized_code, description, remediation,
	severity, alternative_forms, source_document_id, source_chunk_id, created_at, updated_at`

// errorCodeRow holds the scan destinations of errorCodeColumns
type errorCodeRow struct {
	e     domain.ErrorCodeEntry
	forms pq.StringArray
}

func (r *errorCodeRow) dest() []any {
	return []any{
		&r.e.ID,
		&r.e.Manufacturer,
		&r.e.Code,
		&r.e.NormalizedCode,
		&r.e.Description,
		&r.e.Remediation,
		&r.e.Severity,
		&r.forms,
		&r.e.SourceDocumentID,
		&r.e.SourceChunkID,
		&r.e.CreatedAt,
		&r.e.UpdatedAt,
	}
}

func (r *errorCodeRow) entry() *domain.ErrorCodeEntry {
	e := r.e
	e.AlternativeForms = []string(r.forms)
	return &e
}

func scanErrorCode(row rowScanner) (*domain.ErrorCodeEntry, error) {
	var r errorCodeRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.entry(), nil
}

// Upsert creates or merges an entry. The existing row is locked for the
// merge so concurrent index tasks never drop each other's forms.
func (s *ErrorCodeStore) Upsert(ctx context.Context, entry *domain.ErrorCodeEntry) (*domain.ErrorCodeEntry, error) {
	if entry.NormalizedCode == "" {
		entry.NormalizedCode = normalize.Code(entry.Code)
	}
	if entry.NormalizedCode == "" {
		return nil, fmt.Errorf("%w: empty error code", domain.ErrInvalidInput)
	}
	key := strings.ToLower(entry.Manufacturer)

	var stored *domain.ErrorCodeEntry
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		id := entry.ID
		if id == "" {
			id = domain.GenerateID()
		}
		// Claim the key first; a concurrent insert waits on the unique index.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO error_codes (id, manufacturer, manufacturer_key, code, normalized_code,
				severity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (manufacturer_key, normalized_code) DO NOTHING
		`, id, entry.Manufacturer, key, entry.Code, entry.NormalizedCode, domain.SeverityMedium, now); err != nil {
			return fmt.Errorf("insert error code: %w", err)
		}

		cur, err := scanErrorCode(tx.QueryRowContext(ctx, `
			SELECT `+errorCodeColumns+` FROM error_codes
			WHERE manufacturer_key = $1 AND normalized_code = $2
			FOR UPDATE
		`, key, entry.NormalizedCode))
		if err != nil {
			return fmt.Errorf("lock error code: %w", err)
		}

		cur.MergeForms(entry.Code)
		cur.MergeForms(entry.AlternativeForms...)
		if entry.Description != "" {
			cur.Description = entry.Description
		}
		if entry.Remediation != "" {
			cur.Remediation = entry.Remediation
		}
		if entry.Severity != 0 {
			cur.Severity = entry.Severity.Clamp()
		}
		if entry.SourceDocumentID != "" {
			cur.SourceDocumentID = entry.SourceDocumentID
		}
		if entry.SourceChunkID != "" {
			cur.SourceChunkID = entry.SourceChunkID
		}
		cur.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
			UPDATE error_codes SET description = $1, remediation = $2, severity = $3,
				alternative_forms = $4, source_document_id = $5, source_chunk_id = $6, updated_at = $7
			WHERE id = $8
		`, cur.Description, cur.Remediation, cur.Severity, pq.Array(nonNil(cur.AlternativeForms)),
			cur.SourceDocumentID, cur.SourceChunkID, cur.UpdatedAt, cur.ID); err != nil {
			return fmt.Errorf("merge error code: %w", err)
		}
		stored = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// FindByNormalized returns entries with the given normalized code
func (s *ErrorCodeStore) FindByNormalized(ctx context.Context, manufacturer, normalizedCode string) ([]*domain.ErrorCodeEntry, error) {
	query := `SELECT ` + errorCodeColumns + ` FROM error_codes WHERE normalized_code = $1`
	args := []any{normalizedCode}
	if manufacturer != "" {
		query += ` AND manufacturer_key = $2`
		args = append(args, strings.ToLower(manufacturer))
	}
	query += ` ORDER BY manufacturer`
	return s.query(ctx, query, args...)
}

// List returns the entries of a manufacturer ordered by code
func (s *ErrorCodeStore) List(ctx context.Context, manufacturer string, limit, offset int) ([]*domain.ErrorCodeEntry, error) {
	query := `SELECT ` + errorCodeColumns + ` FROM error_codes`
	args := []any{}
	if manufacturer != "" {
		query += ` WHERE manufacturer_key = $1`
		args = append(args, strings.ToLower(manufacturer))
	}
	query += ` ORDER BY code`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, offset)
	}
	return s.query(ctx, query, args...)
}

func (s *ErrorCodeStore) query(ctx context.Context, query string, args ...any) ([]*domain.ErrorCodeEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error codes: %w", err)
	}
	defer rows.Close()

	entries := []*domain.ErrorCodeEntry{}
	for rows.Next() {
		e, err := scanErrorCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error code: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
