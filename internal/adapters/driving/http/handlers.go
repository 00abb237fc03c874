package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// ReadyResponse reports each dependency
// @Description Readiness with per-dependency status
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// SearchRequest is the body of a search call
// @Description Hybrid search request
type SearchRequest struct {
	Query      string               `json:"query" example:"E-104 drain pump"`
	Filters    domain.SearchFilters `json:"filters"`
	MaxResults int                  `json:"max_results,omitempty" example:"20"`
}

// CancelRequest is the optional body of a cancel call
type CancelRequest struct {
	Reason string `json:"reason,omitempty" example:"uploaded by mistake"`
}

// CancelResponse reports how many tasks were cancelled
type CancelResponse struct {
	DocumentID string `json:"document_id"`
	Cancelled  int    `json:"cancelled"`
}

// SupersedeRequest names the document being replaced
type SupersedeRequest struct {
	Supersedes string `json:"supersedes" example:"3f1c..."`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the liveness of the process
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the database, queue and blob store
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.dependencies))}
	status := http.StatusOK
	for name, dep := range s.dependencies {
		if err := dep.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// handleSwagger serves the registered OpenAPI document
func (s *Server) handleSwagger(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "api documentation not registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, doc)
}

// Document endpoints

// handleUpload godoc
// @Summary      Upload a document
// @Description  Admits a file. Identical bytes resolve to the existing document; only new documents start processing.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file           formData  file    true   "Document file"
// @Param        document_type  formData  string  false  "service_manual, parts_catalog, bulletin, error_code_database or transcript"
// @Param        manufacturer   formData  string  false  "Manufacturer name"
// @Param        products       formData  string  false  "Comma separated product names"
// @Param        language       formData  string  false  "ISO language code"
// @Param        mime_type      formData  string  false  "MIME type hint"
// @Param        priority       formData  int     false  "Task priority, 1 is served first"
// @Param        supersedes     formData  string  false  "ID of the document this upload replaces"
// @Success      201  {object}  driving.AdmitResult  "New document"
// @Success      200  {object}  driving.AdmitResult  "Duplicate of an existing document"
// @Failure      400  {object}  ErrorResponse
// @Failure      413  {object}  ErrorResponse
// @Failure      415  {object}  ErrorResponse
// @Router       /documents [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}

	hint := driving.AdmissionHint{
		Filename:     header.Filename,
		MimeType:     r.FormValue("mime_type"),
		DocumentType: r.FormValue("document_type"),
		Manufacturer: r.FormValue("manufacturer"),
		Products:     splitList(r.FormValue("products")),
		Language:     r.FormValue("language"),
		Supersedes:   r.FormValue("supersedes"),
	}
	if hint.MimeType == "" {
		hint.MimeType = header.Header.Get("Content-Type")
	}
	if p := r.FormValue("priority"); p != "" {
		priority, err := strconv.Atoi(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		hint.Priority = priority
	}

	result, err := s.admissionService.Admit(r.Context(), data, hint)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// handleListDocuments godoc
// @Summary      List documents
// @Description  Lists documents newest first
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        status        query  string  false  "pending, processing, completed or failed"
// @Param        type          query  string  false  "Document type"
// @Param        manufacturer  query  string  false  "Manufacturer"
// @Param        limit         query  int     false  "Page size"  default(50)
// @Param        offset        query  int     false  "Offset"
// @Success      200  {array}   domain.Document
// @Failure      400  {object}  ErrorResponse
// @Router       /documents [get]
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := driven.DocumentFilter{
		Status:       domain.DocumentStatus(q.Get("status")),
		Manufacturer: q.Get("manufacturer"),
		Limit:        limit,
		Offset:       offset,
	}
	if t := q.Get("type"); t != "" {
		docType, err := domain.ParseDocumentType(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown document type")
			return
		}
		filter.Type = docType
	}

	docs, err := s.documentService.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleGetDocument godoc
// @Summary      Get document
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.Document
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id} [get]
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documentService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleGetDocumentChunks godoc
// @Summary      Get document chunks
// @Description  Returns the chunks of a document ordered by index
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {array}   domain.Chunk
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id}/chunks [get]
func (s *Server) handleGetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.documentService.Chunks(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []*domain.Chunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

// handleDocumentStatus godoc
// @Summary      Document processing status
// @Description  Progress, chunk counts and task counts per stage
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.DocumentStatusReport
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id}/status [get]
func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.documentService.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDocumentTasks godoc
// @Summary      Document tasks
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id      path   string  true   "Document ID"
// @Param        status  query  string  false  "Task status"
// @Success      200  {array}   domain.Task
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id}/tasks [get]
func (s *Server) handleDocumentTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.documentService.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	tasks, err := s.taskService.List(r.Context(), driven.TaskFilter{
		DocumentID: id,
		Status:     domain.TaskStatus(r.URL.Query().Get("status")),
		Limit:      500,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleCancelDocument godoc
// @Summary      Cancel document processing
// @Description  Fails every unfinished task and the document
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  string         true   "Document ID"
// @Param        request  body  CancelRequest  false  "Reason"
// @Success      200  {object}  CancelResponse
// @Failure      400  {object}  ErrorResponse  "Document already finished"
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id}/cancel [post]
func (s *Server) handleCancelDocument(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	id := r.PathValue("id")
	n, err := s.documentService.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{DocumentID: id, Cancelled: n})
}

// handleReprocessDocument godoc
// @Summary      Reprocess document
// @Description  Starts a new processing pass from text extraction
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      202  {object}  domain.Document
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id}/reprocess [post]
func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documentService.Reprocess(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// handleSupersedeDocument godoc
// @Summary      Supersede document
// @Description  Records this document as the replacement of another
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  string            true  "Replacement document ID"
// @Param        request  body  SupersedeRequest  true  "Replaced document"
// @Success      200  {object}  StatusResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id}/supersede [post]
func (s *Server) handleSupersedeDocument(w http.ResponseWriter, r *http.Request) {
	var req SupersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Supersedes == "" {
		writeError(w, http.StatusBadRequest, "supersedes is required")
		return
	}
	if err := s.documentService.Supersede(r.Context(), r.PathValue("id"), req.Supersedes); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// Search endpoints

// handleSearch godoc
// @Summary      Search
// @Description  Hybrid search over completed documents. Error code queries match code entries exactly or fuzzily.
// @Tags         Search
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      SearchRequest  true  "Query and filters"
// @Success      200      {object}  domain.SearchResponse
// @Failure      400      {object}  ErrorResponse
// @Router       /search [post]
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := domain.DefaultSearchOptions()
	opts.Filters = req.Filters
	if req.MaxResults > 0 {
		opts.MaxResults = min(req.MaxResults, 100)
	}

	resp, err := s.searchService.Search(r.Context(), req.Query, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLookupCode godoc
// @Summary      Look up an error code
// @Description  Returns knowledge entries whose normalized code matches
// @Tags         Search
// @Produce      json
// @Security     BearerAuth
// @Param        code          query  string  true   "Error code in any spelling"
// @Param        manufacturer  query  string  false  "Manufacturer"
// @Success      200  {array}   domain.ErrorCodeEntry
// @Failure      400  {object}  ErrorResponse
// @Router       /error-codes [get]
func (s *Server) handleLookupCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if strings.TrimSpace(code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	entries, err := s.searchService.LookupCode(r.Context(), r.URL.Query().Get("manufacturer"), code)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.ErrorCodeEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Task endpoints

// handleListTasks godoc
// @Summary      List tasks
// @Description  Lists queue tasks newest first. status=failed lists dead letters.
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        status       query  string  false  "pending, processing, retry, completed or failed"
// @Param        type         query  string  false  "extract_text, chunk, extract_signals, embed or index"
// @Param        document_id  query  string  false  "Owning document"
// @Param        limit        query  int     false  "Page size"  default(50)
// @Param        offset       query  int     false  "Offset"
// @Success      200  {array}   domain.Task
// @Failure      400  {object}  ErrorResponse
// @Router       /tasks [get]
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskType := domain.TaskType(q.Get("type"))
	if taskType != "" && !taskType.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown task type")
		return
	}

	tasks, err := s.taskService.List(r.Context(), driven.TaskFilter{
		DocumentID: q.Get("document_id"),
		Status:     domain.TaskStatus(q.Get("status")),
		Type:       taskType,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleGetTask godoc
// @Summary      Get task
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  domain.Task
// @Failure      404  {object}  ErrorResponse
// @Router       /tasks/{id} [get]
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleQueueStats godoc
// @Summary      Queue statistics
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  driven.QueueStats
// @Router       /tasks/stats [get]
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.taskService.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeServiceError maps domain errors to HTTP statuses
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnsupportedInput):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, domain.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout")
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pagination(limitStr, offsetStr string) (int, int, error) {
	limit, offset := 50, 0
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = min(n, 500)
	}
	if offsetStr != "" {
		n, err := strconv.Atoi(offsetStr)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
