package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/normalize"
	"github.com/custodia-labs/sercha-ingest/internal/ranker"
	"github.com/custodia-labs/sercha-ingest/internal/runtime"
)

// Ensure searchService implements SearchService
var _ driving.SearchService = (*searchService)(nil)

const (
	defaultMaxResults = 20
	maxMaxResults     = 100
)

// searchService implements the SearchService interface
type searchService struct {
	candidates     driven.CandidateStore
	errorCodes     driven.ErrorCodeStore
	cache          driven.EmbeddingCache
	services       *runtime.Services // Dynamic embedding provider
	ranker         *ranker.Ranker
	logger         *slog.Logger
	embedTimeout   time.Duration
	cacheTTL       time.Duration
	candidateLimit int
}

// SearchConfig holds the dependencies of the search service.
type SearchConfig struct {
	Candidates     driven.CandidateStore
	ErrorCodes     driven.ErrorCodeStore
	Cache          driven.EmbeddingCache // Optional: query vector cache
	Services       *runtime.Services     // Optional: without an embedder, search is text-only
	Ranker         *ranker.Ranker        // Optional: defaults to ranker.DefaultConfig()
	Logger         *slog.Logger
	EmbedTimeout   time.Duration // Deadline of the query embedding (default: 5s)
	CacheTTL       time.Duration // Lifetime of cached query vectors (default: 1h)
	CandidateLimit int           // Candidates fetched per retrieval path (default: 200)
}

// NewSearchService creates a new SearchService.
// The embedding provider is read from runtime.Services on every query.
func NewSearchService(cfg SearchConfig) driving.SearchService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := cfg.Ranker
	if r == nil {
		r = ranker.New(ranker.DefaultConfig())
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 5 * time.Second
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	limit := cfg.CandidateLimit
	if limit <= 0 {
		limit = 200
	}
	return &searchService{
		candidates:     cfg.Candidates,
		errorCodes:     cfg.ErrorCodes,
		cache:          cfg.Cache,
		services:       cfg.Services,
		ranker:         r,
		logger:         logger,
		embedTimeout:   embedTimeout,
		cacheTTL:       cacheTTL,
		candidateLimit: limit,
	}
}

// Search ranks the chunks and error code entries of searchable documents.
// When no query vector can be produced the search degrades to the text
// signals instead of failing.
func (s *searchService) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}

	// Apply defaults
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	if opts.MaxResults > maxMaxResults {
		opts.MaxResults = maxMaxResults
	}

	vector, model := s.queryVector(ctx, query)

	q := ranker.NewQuery(query, vector)
	candidates, err := s.candidates.Candidates(ctx, driven.CandidateQuery{
		Text:           query,
		NormalizedCode: q.Normalized,
		Vector:         vector,
		Model:          model,
		Filters:        opts.Filters,
		Limit:          s.candidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	results := s.ranker.Rank(q, candidates, opts.MaxResults)

	return &domain.SearchResponse{
		Query:           query,
		NormalizedQuery: q.Normalized,
		Results:         results,
		VectorUsed:      vector != nil,
		Took:            time.Since(start),
	}, nil
}

// queryVector embeds the query, consulting the cache first. Any failure
// yields a nil vector.
func (s *searchService) queryVector(ctx context.Context, query string) ([]float32, string) {
	embedder := s.services.EmbeddingService()
	if embedder == nil {
		return nil, ""
	}
	model := embedder.Model()

	if s.cache != nil {
		if vec, ok, err := s.cache.Get(ctx, model, query); err != nil {
			s.logger.Warn("query vector cache read failed", "error", err)
		} else if ok {
			return vec, model
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	vec, err := embedder.EmbedQuery(embedCtx, query)
	if err != nil || len(vec) == 0 {
		s.logger.Warn("query embedding unavailable, searching text only", "error", err)
		return nil, ""
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, model, query, vec, s.cacheTTL); err != nil {
			s.logger.Warn("query vector cache write failed", "error", err)
		}
	}
	return vec, model
}

// LookupCode returns the knowledge entries of a code in any raw spelling.
func (s *searchService) LookupCode(ctx context.Context, manufacturer, code string) ([]*domain.ErrorCodeEntry, error) {
	normalized := normalize.Code(code)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty error code", domain.ErrInvalidInput)
	}
	return s.errorCodes.FindByNormalized(ctx, strings.TrimSpace(manufacturer), normalized)
}
