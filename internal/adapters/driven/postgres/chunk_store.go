package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.ChunkStore     = (*ChunkStore)(nil)
	_ driven.EmbeddingStore = (*EmbeddingStore)(nil)
)

// ChunkStore implements driven.ChunkStore using PostgreSQL
type ChunkStore struct {
	db *DB
}

// NewChunkStore creates a new ChunkStore
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db}
}

const chunkColumns = `id, document_id, chunk_index, start_page, end_page, text, start_offset,
	end_offset, token_count, fingerprint, strategy, section, subsection, error_codes,
	normalized_codes, part_numbers, quality_score, status, embedding_status, error,
	created_at, updated_at`

// chunkRow holds the scan destinations of chunkColumns
type chunkRow struct {
	c                        domain.Chunk
	codes, normalized, parts pq.StringArray
}

func (r *chunkRow) dest() []any {
	return []any{
		&r.c.ID,
		&r.c.DocumentID,
		&r.c.Index,
		&r.c.StartPage,
		&r.c.EndPage,
		&r.c.Text,
		&r.c.StartOffset,
		&r.c.EndOffset,
		&r.c.TokenCount,
		&r.c.Fingerprint,
		&r.c.Strategy,
		&r.c.Section,
		&r.c.Subsection,
		&r.codes,
		&r.normalized,
		&r.parts,
		&r.c.QualityScore,
		&r.c.Status,
		&r.c.EmbeddingStatus,
		&r.c.Error,
		&r.c.CreatedAt,
		&r.c.UpdatedAt,
	}
}

func (r *chunkRow) chunk() *domain.Chunk {
	c := r.c
	c.ErrorCodes = []string(r.codes)
	c.NormalizedCodes = []string(r.normalized)
	c.PartNumbers = []string(r.parts)
	return &c
}

func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var r chunkRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.chunk(), nil
}

// ReplaceChunks upserts the chunks of one pass keyed by (document, index,
// fingerprint) and removes the document's rows that are no longer produced.
func (s *ChunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) (int, error) {
	seen := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if seen[c.Index] {
			return 0, fmt.Errorf("%w: index %d", domain.ErrDuplicateChunk, c.Index)
		}
		seen[c.Index] = true
	}

	inserted := 0
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (`+chunkColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
			ON CONFLICT (document_id, chunk_index, fingerprint) DO UPDATE SET
				start_page = EXCLUDED.start_page,
				end_page = EXCLUDED.end_page,
				start_offset = EXCLUDED.start_offset,
				end_offset = EXCLUDED.end_offset,
				strategy = EXCLUDED.strategy,
				status = 'pending',
				error = '',
				updated_at = EXCLUDED.updated_at
			RETURNING id, (xmax = 0)
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		now := time.Now()
		keep := make([]string, 0, len(chunks))
		for _, c := range chunks {
			c.DocumentID = documentID
			if c.ID == "" {
				c.ID = domain.GenerateID()
			}
			if c.Status == "" {
				c.Status = domain.ChunkStatusPending
			}
			if c.EmbeddingStatus == "" {
				c.EmbeddingStatus = domain.EmbeddingStatusPending
			}
			var id string
			var isNew bool
			err := stmt.QueryRowContext(ctx,
				c.ID,
				documentID,
				c.Index,
				c.StartPage,
				c.EndPage,
				c.Text,
				c.StartOffset,
				c.EndOffset,
				c.TokenCount,
				c.Fingerprint,
				c.Strategy,
				c.Section,
				c.Subsection,
				pq.Array(nonNil(c.ErrorCodes)),
				pq.Array(nonNil(c.NormalizedCodes)),
				pq.Array(nonNil(c.PartNumbers)),
				c.QualityScore,
				c.Status,
				c.EmbeddingStatus,
				c.Error,
				now,
				now,
			).Scan(&id, &isNew)
			if err != nil {
				if isPQError(err, uniqueViolation) {
					return fmt.Errorf("%w: %v", domain.ErrDuplicateChunk, err)
				}
				return fmt.Errorf("upsert chunk %d: %w", c.Index, err)
			}
			c.ID = id
			if isNew {
				inserted++
			}
			keep = append(keep, id)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = $1 AND NOT (id = ANY($2))`,
			documentID, pq.Array(keep),
		); err != nil {
			return fmt.Errorf("delete stale chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Get retrieves a chunk by ID
func (s *ChunkStore) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query chunk: %w", err)
	}
	return c, nil
}

// ListByDocument retrieves all chunks for a document ordered by index
func (s *ChunkStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*domain.Chunk{}
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpdateSignals stores the extraction results of a chunk
func (s *ChunkStore) UpdateSignals(ctx context.Context, id string, rawCodes, normalizedCodes, partNumbers []string) error {
	return s.update(ctx, `
		UPDATE chunks SET error_codes = $1, normalized_codes = $2, part_numbers = $3, updated_at = $4
		WHERE id = $5
	`, pq.Array(nonNil(rawCodes)), pq.Array(nonNil(normalizedCodes)), pq.Array(nonNil(partNumbers)), time.Now(), id)
}

// UpdateStatus sets a chunk's processing status and error
func (s *ChunkStore) UpdateStatus(ctx context.Context, id string, status domain.ChunkStatus, errMsg string) error {
	return s.update(ctx, `UPDATE chunks SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		status, errMsg, time.Now(), id)
}

// SetEmbeddingStatus records whether the chunk has a vector
func (s *ChunkStore) SetEmbeddingStatus(ctx context.Context, id string, status domain.EmbeddingStatus) error {
	return s.update(ctx, `UPDATE chunks SET embedding_status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
}

// CompleteDocument marks every non-failed chunk of the document completed
func (s *ChunkStore) CompleteDocument(ctx context.Context, documentID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET status = $1, updated_at = $2
		WHERE document_id = $3 AND status <> $4
	`, domain.ChunkStatusCompleted, time.Now(), documentID, domain.ChunkStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("complete chunks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *ChunkStore) update(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update chunk: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// EmbeddingStore implements driven.EmbeddingStore on a pgvector column
type EmbeddingStore struct {
	db *DB
}

// NewEmbeddingStore creates a new EmbeddingStore
func NewEmbeddingStore(db *DB) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

// Upsert replaces the vector of a (chunk, model) pair
func (s *EmbeddingStore) Upsert(ctx context.Context, e *domain.Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrInvalidInput)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, model, vector, dimensions, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chunk_id, model) DO UPDATE SET
			vector = EXCLUDED.vector,
			dimensions = EXCLUDED.dimensions,
			created_at = EXCLUDED.created_at
	`, e.ChunkID, e.Model, pgvector.NewVector(e.Vector), len(e.Vector), created)
	if err != nil {
		if isPQError(err, fkViolation) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Get retrieves the vector of a chunk for a model
func (s *EmbeddingStore) Get(ctx context.Context, chunkID, model string) (*domain.Embedding, error) {
	var e domain.Embedding
	var vec pgvector.Vector
	err := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, model, vector, dimensions, created_at
		FROM embeddings WHERE chunk_id = $1 AND model = $2
	`, chunkID, model).Scan(&e.ChunkID, &e.Model, &vec, &e.Dimensions, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	e.Vector = vec.Slice()
	return &e, nil
}
