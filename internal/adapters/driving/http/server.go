package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger
	maxUpload  int64

	// Services
	admissionService driving.AdmissionService
	documentService  driving.DocumentService
	searchService    driving.SearchService
	taskService      driving.TaskService

	// Infrastructure checked by /ready, keyed by component name
	dependencies map[string]Pinger
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	APIKeys        []string // Empty disables authentication
	AllowedOrigins []string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Version:        "dev",
		MaxUploadBytes: 100 << 20,
	}
}

// Services groups the driving ports the server exposes
type Services struct {
	Admission driving.AdmissionService
	Documents driving.DocumentService
	Search    driving.SearchService
	Tasks     driving.TaskService
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services, dependencies map[string]Pinger) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultConfig().MaxUploadBytes
	}

	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		logger:           logger,
		maxUpload:        maxUpload,
		admissionService: svc.Admission,
		documentService:  svc.Documents,
		searchService:    svc.Search,
		taskService:      svc.Tasks,
		dependencies:     dependencies,
	}
	s.setupRoutes(NewAPIKeyMiddleware(cfg.APIKeys))

	var handler http.Handler = s.router
	handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	handler = NewLoggingMiddleware(logger).Handler(handler)
	handler = NewRecoveryMiddleware(logger).Handler(handler)
	handler = NewRequestIDMiddleware().Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  5 * time.Minute, // Large uploads
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(auth *APIKeyMiddleware) {
	protect := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(h)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwagger)

	// Documents
	s.router.Handle("POST /api/v1/documents", protect(s.handleUpload))
	s.router.Handle("GET /api/v1/documents", protect(s.handleListDocuments))
	s.router.Handle("GET /api/v1/documents/{id}", protect(s.handleGetDocument))
	s.router.Handle("GET /api/v1/documents/{id}/chunks", protect(s.handleGetDocumentChunks))
	s.router.Handle("GET /api/v1/documents/{id}/status", protect(s.handleDocumentStatus))
	s.router.Handle("GET /api/v1/documents/{id}/tasks", protect(s.handleDocumentTasks))
	s.router.Handle("POST /api/v1/documents/{id}/cancel", protect(s.handleCancelDocument))
	s.router.Handle("POST /api/v1/documents/{id}/reprocess", protect(s.handleReprocessDocument))
	s.router.Handle("POST /api/v1/documents/{id}/supersede", protect(s.handleSupersedeDocument))

	// Search
	s.router.Handle("POST /api/v1/search", protect(s.handleSearch))
	s.router.Handle("GET /api/v1/error-codes", protect(s.handleLookupCode))

	// Queue inspection
	s.router.Handle("GET /api/v1/tasks", protect(s.handleListTasks))
	s.router.Handle("GET /api/v1/tasks/stats", protect(s.handleQueueStats))
	s.router.Handle("GET /api/v1/tasks/{id}", protect(s.handleGetTask))
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
