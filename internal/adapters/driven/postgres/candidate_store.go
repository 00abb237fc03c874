package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CandidateStore = (*CandidateStore)(nil)

// CandidateStore narrows the corpus for a query with five retrieval paths:
// exact normalized code, trigram similarity on chunk and entry codes, word
// similarity on chunk text, any-term full text and vector distance. Each
// path is bounded by the query limit; the union is scored by the ranker.
type CandidateStore struct {
	db *DB

	// MinTrigram is the pg_trgm similarity a code, or the word similarity a
	// chunk text, needs to be a fuzzy candidate
	MinTrigram float64
}

// NewCandidateStore creates a new CandidateStore
func NewCandidateStore(db *DB) *CandidateStore {
	return &CandidateStore{db: db, MinTrigram: 0.3}
}

// filterSQL renders the hard filters against the documents alias d. Only
// completed documents that have not been superseded are searchable.
func filterSQL(f domain.SearchFilters, args []any) (string, []any) {
	clauses := []string{
		fmt.Sprintf("d.status = '%s'", domain.DocumentStatusCompleted),
		"d.superseded_by = ''",
	}
	if len(f.Manufacturers) > 0 {
		lowered := make([]string, len(f.Manufacturers))
		for i, m := range f.Manufacturers {
			lowered[i] = strings.ToLower(m)
		}
		args = append(args, pq.Array(lowered))
		clauses = append(clauses, fmt.Sprintf("lower(d.manufacturer) = ANY($%d)", len(args)))
	}
	if len(f.DocumentTypes) > 0 {
		types := make([]string, len(f.DocumentTypes))
		for i, t := range f.DocumentTypes {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		clauses = append(clauses, fmt.Sprintf("d.type = ANY($%d)", len(args)))
	}
	if len(f.Products) > 0 {
		lowered := make([]string, len(f.Products))
		for i, p := range f.Products {
			lowered[i] = strings.ToLower(p)
		}
		args = append(args, pq.Array(lowered))
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM unnest(d.products) p WHERE lower(p) = ANY($%d))", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// Candidates implements driven.CandidateStore
func (s *CandidateStore) Candidates(ctx context.Context, q driven.CandidateQuery) ([]*domain.Candidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	chunkIDs, err := s.chunkIDs(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	candidates, err := s.loadChunks(ctx, chunkIDs, q.Model)
	if err != nil {
		return nil, err
	}

	entries, err := s.entries(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	return append(candidates, entries...), nil
}

// anyTermQuery turns $1 into a tsquery matching chunks that contain any of
// its terms, so a misspelt word does not veto the others.
const anyTermQuery = `replace(plainto_tsquery('simple', $1)::text, ' & ', ' | ')::tsquery`

// chunkIDs runs the chunk retrieval paths and returns the union of ids. The
// paths share one transaction so the word similarity threshold
// set for the trigram path stays local to it.
func (s *CandidateStore) chunkIDs(ctx context.Context, q driven.CandidateQuery, limit int) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		collect := func(query string, args ...any) error {
			rows, err := tx.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("query candidates: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return fmt.Errorf("scan candidate: %w", err)
				}
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
			return rows.Err()
		}

		if q.NormalizedCode != "" {
			where, args := filterSQL(q.Filters, []any{q.NormalizedCode})
			query := fmt.Sprintf(`
				SELECT c.id FROM chunks c JOIN documents d ON d.id = c.document_id
				WHERE c.status = 'completed' AND $1 = ANY(c.normalized_codes) AND %s
				ORDER BY c.id LIMIT %d`, where, limit)
			if err := collect(query, args...); err != nil {
				return err
			}

			where, args = filterSQL(q.Filters, []any{q.NormalizedCode, s.MinTrigram})
			query = fmt.Sprintf(`
				SELECT c.id FROM chunks c
				JOIN documents d ON d.id = c.document_id
				CROSS JOIN LATERAL (
					SELECT max(similarity(n, $1)) AS score FROM unnest(c.normalized_codes) n
				) best
				WHERE c.status = 'completed' AND best.score >= $2 AND %s
				ORDER BY best.score DESC, c.id LIMIT %d`, where, limit)
			if err := collect(query, args...); err != nil {
				return err
			}
		}

		if strings.TrimSpace(q.Text) != "" {
			where, args := filterSQL(q.Filters, []any{q.Text})
			query := fmt.Sprintf(`
				SELECT c.id FROM chunks c JOIN documents d ON d.id = c.document_id
				WHERE c.status = 'completed'
				  AND to_tsvector('simple', c.text) @@ %[1]s AND %[2]s
				ORDER BY ts_rank(to_tsvector('simple', c.text), %[1]s) DESC, c.id
				LIMIT %[3]d`, anyTermQuery, where, limit)
			if err := collect(query, args...); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx,
				`SELECT set_config('pg_trgm.word_similarity_threshold', $1, true)`,
				strconv.FormatFloat(s.MinTrigram, 'f', -1, 64)); err != nil {
				return fmt.Errorf("set word similarity threshold: %w", err)
			}
			where, args = filterSQL(q.Filters, []any{strings.ToLower(q.Text)})
			query = fmt.Sprintf(`
				SELECT c.id FROM chunks c JOIN documents d ON d.id = c.document_id
				WHERE c.status = 'completed' AND $1 <%% lower(c.text) AND %s
				ORDER BY word_similarity($1, lower(c.text)) DESC, c.id
				LIMIT %d`, where, limit)
			if err := collect(query, args...); err != nil {
				return err
			}
		}

		if len(q.Vector) > 0 && q.Model != "" {
			where, args := filterSQL(q.Filters, []any{pgvector.NewVector(q.Vector), q.Model})
			query := fmt.Sprintf(`
				SELECT c.id FROM embeddings e
				JOIN chunks c ON c.id = e.chunk_id
				JOIN documents d ON d.id = c.document_id
				WHERE e.model = $2 AND e.dimensions = %d AND c.status = 'completed' AND %s
				ORDER BY e.vector <=> $1 LIMIT %d`, len(q.Vector), where, limit)
			if err := collect(query, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *CandidateStore) loadChunks(ctx context.Context, ids []string, model string) ([]*domain.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cols := prefixColumns("c", chunkColumns) + ", " + prefixColumns("d", documentColumns)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cols+`, e.vector
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN embeddings e ON e.chunk_id = c.id AND e.model = $2
		WHERE c.id = ANY($1)
		ORDER BY c.id
	`, pq.Array(ids), model)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Candidate
	for rows.Next() {
		chunk, doc, vec, err := scanChunkWithDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, &domain.Candidate{
			Kind:     domain.ResultKindChunk,
			Chunk:    chunk,
			Document: doc,
			Vector:   vec,
		})
	}
	return out, rows.Err()
}

// entries returns exact and trigram-similar error code entries.
func (s *CandidateStore) entries(ctx context.Context, q driven.CandidateQuery, limit int) ([]*domain.Candidate, error) {
	if q.NormalizedCode == "" {
		return nil, nil
	}
	where, args := filterSQL(q.Filters, []any{q.NormalizedCode, s.MinTrigram})
	cols := prefixColumns("x", errorCodeColumns) + ", " + prefixColumns("d", documentColumns)
	query := fmt.Sprintf(`
		SELECT %s
		FROM error_codes x JOIN documents d ON d.id = x.source_document_id
		WHERE (x.normalized_code = $1 OR similarity(x.normalized_code, $1) >= $2) AND %s
		ORDER BY similarity(x.normalized_code, $1) DESC, x.id
		LIMIT %d`, cols, where, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entry candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Candidate
	for rows.Next() {
		entry, doc, err := scanEntryWithDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry candidate: %w", err)
		}
		out = append(out, &domain.Candidate{Kind: domain.ResultKindErrorCode, Entry: entry, Document: doc})
	}
	return out, rows.Err()
}

// nullVector scans a vector column that may be NULL from the outer join
type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.vec.Scan(src)
}

func scanChunkWithDocument(row rowScanner) (*domain.Chunk, *domain.Document, []float32, error) {
	var cr chunkRow
	var dr documentRow
	var vec nullVector
	dest := append(cr.dest(), dr.dest()...)
	dest = append(dest, &vec)
	if err := row.Scan(dest...); err != nil {
		return nil, nil, nil, err
	}
	if !vec.valid {
		return cr.chunk(), dr.document(), nil, nil
	}
	return cr.chunk(), dr.document(), vec.vec.Slice(), nil
}

func scanEntryWithDocument(row rowScanner) (*domain.ErrorCodeEntry, *domain.Document, error) {
	var er errorCodeRow
	var dr documentRow
	if err := row.Scan(append(er.dest(), dr.dest()...)...); err != nil {
		return nil, nil, err
	}
	return er.entry(), dr.document(), nil
}

// prefixColumns qualifies a column list with a table alias
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
