package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// Mock services for testing

type mockAdmissionService struct {
	admitFn func(ctx context.Context, data []byte, hint driving.AdmissionHint) (*driving.AdmitResult, error)
}

func (m *mockAdmissionService) Admit(ctx context.Context, data []byte, hint driving.AdmissionHint) (*driving.AdmitResult, error) {
	if m.admitFn != nil {
		return m.admitFn(ctx, data, hint)
	}
	return nil, errors.New("not implemented")
}

type mockDocumentService struct {
	getFn       func(ctx context.Context, id string) (*domain.Document, error)
	listFn      func(ctx context.Context, filter driven.DocumentFilter) ([]*domain.Document, error)
	chunksFn    func(ctx context.Context, id string) ([]*domain.Chunk, error)
	statusFn    func(ctx context.Context, id string) (*domain.DocumentStatusReport, error)
	cancelFn    func(ctx context.Context, id, reason string) (int, error)
	reprocessFn func(ctx context.Context, id string) (*domain.Document, error)
	supersedeFn func(ctx context.Context, newID, oldID string) error
}

func (m *mockDocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) List(ctx context.Context, filter driven.DocumentFilter) ([]*domain.Document, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockDocumentService) Chunks(ctx context.Context, id string) ([]*domain.Chunk, error) {
	if m.chunksFn != nil {
		return m.chunksFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) Status(ctx context.Context, id string) (*domain.DocumentStatusReport, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) Cancel(ctx context.Context, id, reason string) (int, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, id, reason)
	}
	return 0, domain.ErrNotFound
}

func (m *mockDocumentService) Reprocess(ctx context.Context, id string) (*domain.Document, error) {
	if m.reprocessFn != nil {
		return m.reprocessFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) Supersede(ctx context.Context, newID, oldID string) error {
	if m.supersedeFn != nil {
		return m.supersedeFn(ctx, newID, oldID)
	}
	return domain.ErrNotFound
}

func (m *mockDocumentService) Count(ctx context.Context) (int, error) {
	return 0, nil
}

type mockSearchService struct {
	searchFn func(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
	lookupFn func(ctx context.Context, manufacturer, code string) ([]*domain.ErrorCodeEntry, error)
}

func (m *mockSearchService) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, opts)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSearchService) LookupCode(ctx context.Context, manufacturer, code string) ([]*domain.ErrorCodeEntry, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, manufacturer, code)
	}
	return nil, nil
}

type mockTaskService struct {
	getFn   func(ctx context.Context, id string) (*domain.Task, error)
	listFn  func(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error)
	statsFn func(ctx context.Context) (*driven.QueueStats, error)
}

func (m *mockTaskService) Get(ctx context.Context, id string) (*domain.Task, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockTaskService) List(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockTaskService) Stats(ctx context.Context) (*driven.QueueStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &driven.QueueStats{}, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

type testServices struct {
	admission *mockAdmissionService
	documents *mockDocumentService
	search    *mockSearchService
	tasks     *mockTaskService
}

func newTestServer(t *testing.T, keys ...string) (*Server, *testServices) {
	t.Helper()
	svc := &testServices{
		admission: &mockAdmissionService{},
		documents: &mockDocumentService{},
		search:    &mockSearchService{},
		tasks:     &mockTaskService{},
	}
	cfg := DefaultConfig()
	cfg.APIKeys = keys
	cfg.MaxUploadBytes = 1024
	s := NewServer(cfg, Services{
		Admission: svc.admission,
		Documents: svc.documents,
		Search:    svc.search,
		Tasks:     svc.tasks,
	}, map[string]Pinger{"database": &mockPinger{}})
	return s, svc
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func multipartUpload(t *testing.T, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("file", "manual.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// Health

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestHandleReady(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	s.dependencies["queue"] = &mockPinger{err: errors.New("connection refused")}
	rr = serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	resp := decode[ReadyResponse](t, rr)
	if resp.Checks["queue"] != "connection refused" {
		t.Errorf("expected queue check error, got %q", resp.Checks["queue"])
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("expected database ok, got %q", resp.Checks["database"])
	}
}

func TestHandleVersion(t *testing.T) {
	s, _ := newTestServer(t)
	s.version = "1.2.3"
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/version", nil))
	if got := decode[VersionResponse](t, rr); got.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", got.Version)
	}
}

// Upload

func TestHandleUpload(t *testing.T) {
	tests := []struct {
		name       string
		isNew      bool
		wantStatus int
	}{
		{"new document", true, http.StatusCreated},
		{"duplicate", false, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, svc := newTestServer(t)
			var gotHint driving.AdmissionHint
			var gotData []byte
			svc.admission.admitFn = func(ctx context.Context, data []byte, hint driving.AdmissionHint) (*driving.AdmitResult, error) {
				gotData, gotHint = data, hint
				return &driving.AdmitResult{DocumentID: "doc-1", IsNew: tt.isNew}, nil
			}

			req := multipartUpload(t, []byte("E-104 drain pump"), map[string]string{
				"manufacturer":  "Acme",
				"products":      "WM-100, WM-200",
				"document_type": "service_manual",
				"priority":      "2",
			})
			rr := serve(s, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if string(gotData) != "E-104 drain pump" {
				t.Errorf("unexpected data %q", gotData)
			}
			if gotHint.Filename != "manual.txt" || gotHint.Manufacturer != "Acme" || gotHint.Priority != 2 {
				t.Errorf("unexpected hint %+v", gotHint)
			}
			if len(gotHint.Products) != 2 || gotHint.Products[1] != "WM-200" {
				t.Errorf("unexpected products %v", gotHint.Products)
			}
		})
	}
}

func TestHandleUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		admitErr   error
		wantStatus int
	}{
		{"unsupported", fmt.Errorf("%w: image/png", domain.ErrUnsupportedInput), http.StatusUnsupportedMediaType},
		{"too large", domain.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{"invalid", domain.ErrInvalidInput, http.StatusBadRequest},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, svc := newTestServer(t)
			svc.admission.admitFn = func(ctx context.Context, data []byte, hint driving.AdmissionHint) (*driving.AdmitResult, error) {
				return nil, tt.admitErr
			}
			rr := serve(s, multipartUpload(t, []byte("x"), nil))
			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestHandleUpload_MissingFile(t *testing.T) {
	s, _ := newTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("manufacturer", "Acme")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := serve(s, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, multipartUpload(t, bytes.Repeat([]byte("a"), 2048), nil))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rr.Code)
	}
}

func TestHandleUpload_BadPriority(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, multipartUpload(t, []byte("x"), map[string]string{"priority": "high"}))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// Documents

func TestHandleGetDocument(t *testing.T) {
	s, svc := newTestServer(t)
	svc.documents.getFn = func(ctx context.Context, id string) (*domain.Document, error) {
		if id != "doc-1" {
			return nil, domain.ErrNotFound
		}
		return &domain.Document{ID: id, Status: domain.DocumentStatusCompleted}, nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if doc := decode[domain.Document](t, rr); doc.ID != "doc-1" {
		t.Errorf("expected doc-1, got %q", doc.ID)
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/documents/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleListDocuments(t *testing.T) {
	s, svc := newTestServer(t)
	var got driven.DocumentFilter
	svc.documents.listFn = func(ctx context.Context, filter driven.DocumentFilter) ([]*domain.Document, error) {
		got = filter
		return nil, nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodGet,
		"/api/v1/documents?status=failed&type=error-code-database&manufacturer=Acme&limit=10&offset=20", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rr.Body.String())
	}
	want := driven.DocumentFilter{
		Status:       domain.DocumentStatusFailed,
		Type:         domain.DocumentTypeErrorCodeDatabase,
		Manufacturer: "Acme",
		Limit:        10,
		Offset:       20,
	}
	if got != want {
		t.Errorf("expected filter %+v, got %+v", want, got)
	}

	for _, query := range []string{"limit=0", "limit=abc", "offset=-1", "type=novel"} {
		rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/documents?"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", query, rr.Code)
		}
	}
}

func TestHandleDocumentStatus(t *testing.T) {
	s, svc := newTestServer(t)
	svc.documents.statusFn = func(ctx context.Context, id string) (*domain.DocumentStatusReport, error) {
		return &domain.DocumentStatusReport{
			Document:   &domain.Document{ID: id, Progress: 60},
			ChunkCount: 12,
		}, nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/status", nil))
	report := decode[domain.DocumentStatusReport](t, rr)
	if report.ChunkCount != 12 || report.Document.Progress != 60 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestHandleDocumentTasks(t *testing.T) {
	s, svc := newTestServer(t)
	svc.documents.getFn = func(ctx context.Context, id string) (*domain.Document, error) {
		return &domain.Document{ID: id}, nil
	}
	var got driven.TaskFilter
	svc.tasks.listFn = func(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
		got = filter
		return []*domain.Task{domain.NewTask(domain.TaskTypeChunk, "doc-1", "doc-1", 1)}, nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/tasks?status=failed", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got.DocumentID != "doc-1" || got.Status != domain.TaskStatusFailed {
		t.Errorf("unexpected filter %+v", got)
	}
	if tasks := decode[[]domain.Task](t, rr); len(tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(tasks))
	}
}

func TestHandleCancelDocument(t *testing.T) {
	s, svc := newTestServer(t)
	var gotReason string
	svc.documents.cancelFn = func(ctx context.Context, id, reason string) (int, error) {
		gotReason = reason
		if id == "done" {
			return 0, fmt.Errorf("%w: document already completed", domain.ErrInvalidInput)
		}
		return 4, nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/documents/doc-1/cancel",
		strings.NewReader(`{"reason":"wrong file"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if resp := decode[CancelResponse](t, rr); resp.Cancelled != 4 {
		t.Errorf("expected 4 cancelled, got %d", resp.Cancelled)
	}
	if gotReason != "wrong file" {
		t.Errorf("expected reason to be passed, got %q", gotReason)
	}

	rr = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/documents/doc-1/cancel", nil))
	if rr.Code != http.StatusOK || gotReason != "cancelled by operator" {
		t.Errorf("expected default reason, got %d %q", rr.Code, gotReason)
	}

	rr = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/documents/done/cancel", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleReprocessDocument(t *testing.T) {
	s, svc := newTestServer(t)
	svc.documents.reprocessFn = func(ctx context.Context, id string) (*domain.Document, error) {
		return &domain.Document{ID: id, Pass: 2, Status: domain.DocumentStatusPending}, nil
	}
	rr := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/documents/doc-1/reprocess", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	if doc := decode[domain.Document](t, rr); doc.Pass != 2 {
		t.Errorf("expected pass 2, got %d", doc.Pass)
	}
}

func TestHandleSupersedeDocument(t *testing.T) {
	s, svc := newTestServer(t)
	var gotNew, gotOld string
	svc.documents.supersedeFn = func(ctx context.Context, newID, oldID string) error {
		gotNew, gotOld = newID, oldID
		return nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/documents/new/supersede",
		strings.NewReader(`{"supersedes":"old"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotNew != "new" || gotOld != "old" {
		t.Errorf("expected new supersedes old, got %q %q", gotNew, gotOld)
	}

	rr = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/documents/new/supersede", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// Search

func TestHandleSearch(t *testing.T) {
	s, svc := newTestServer(t)
	var gotOpts domain.SearchOptions
	svc.search.searchFn = func(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
		gotOpts = opts
		return &domain.SearchResponse{Query: query, NormalizedQuery: "e104"}, nil
	}

	body := `{"query":"E-104","filters":{"manufacturers":["Acme"]},"max_results":500}`
	rr := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotOpts.MaxResults != 100 {
		t.Errorf("expected max results capped at 100, got %d", gotOpts.MaxResults)
	}
	if len(gotOpts.Filters.Manufacturers) != 1 {
		t.Errorf("expected manufacturer filter, got %+v", gotOpts.Filters)
	}
	if resp := decode[domain.SearchResponse](t, rr); resp.NormalizedQuery != "e104" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleSearch_BadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	for _, body := range []string{"not json", `{"query":"   "}`} {
		rr := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%q: expected status 400, got %d", body, rr.Code)
		}
	}
}

func TestHandleLookupCode(t *testing.T) {
	s, svc := newTestServer(t)
	svc.search.lookupFn = func(ctx context.Context, manufacturer, code string) ([]*domain.ErrorCodeEntry, error) {
		if manufacturer != "Acme" || code != "E-104" {
			t.Errorf("unexpected lookup %q %q", manufacturer, code)
		}
		return []*domain.ErrorCodeEntry{{Code: "E104", NormalizedCode: "e104"}}, nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/error-codes?code=E-104&manufacturer=Acme", nil))
	if entries := decode[[]domain.ErrorCodeEntry](t, rr); len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/error-codes", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// Tasks

func TestHandleListTasks(t *testing.T) {
	s, svc := newTestServer(t)
	var got driven.TaskFilter
	svc.tasks.listFn = func(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
		got = filter
		return nil, nil
	}

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=failed&type=embed&limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got.Status != domain.TaskStatusFailed || got.Type != domain.TaskTypeEmbed || got.Limit != 5 {
		t.Errorf("unexpected filter %+v", got)
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?type=sync_all", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleGetTask(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleQueueStats(t *testing.T) {
	s, svc := newTestServer(t)
	svc.tasks.statsFn = func(ctx context.Context) (*driven.QueueStats, error) {
		return &driven.QueueStats{PendingCount: 3, FailedCount: 1}, nil
	}
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil))
	stats := decode[driven.QueueStats](t, rr)
	if stats.PendingCount != 3 || stats.FailedCount != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestServiceUnavailable(t *testing.T) {
	s, svc := newTestServer(t)
	svc.tasks.statsFn = func(ctx context.Context) (*driven.QueueStats, error) {
		return nil, fmt.Errorf("stats: %w", domain.ErrServiceUnavailable)
	}
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

// Authentication

func TestAPIKeyRequired(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if rr := serve(s, req); rr.Code != http.StatusOK {
		t.Errorf("expected status 200 with token, got %d", rr.Code)
	}

	if rr := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil)); rr.Code != http.StatusOK {
		t.Errorf("expected health to be public, got %d", rr.Code)
	}
}
