package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
)

type fakeAdmission struct {
	mu    sync.Mutex
	hints []driving.AdmissionHint
	seen  map[string]string
	err   error
}

func (f *fakeAdmission) Admit(_ context.Context, data []byte, hint driving.AdmissionHint) (*driving.AdmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.hints = append(f.hints, hint)
	if f.seen == nil {
		f.seen = make(map[string]string)
	}
	if id, ok := f.seen[string(data)]; ok {
		return &driving.AdmitResult{DocumentID: id}, nil
	}
	id := "doc-" + hint.Filename
	f.seen[string(data)] = id
	return &driving.AdmitResult{DocumentID: id, IsNew: true}, nil
}

type fakeDocuments struct {
	docs       map[string]*domain.Document
	listFilter driven.DocumentFilter
	cancelled  string
	reason     string
	superseded [2]string
}

func (f *fakeDocuments) Get(_ context.Context, id string) (*domain.Document, error) {
	if d, ok := f.docs[id]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDocuments) List(_ context.Context, filter driven.DocumentFilter) ([]*domain.Document, error) {
	f.listFilter = filter
	var out []*domain.Document
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDocuments) Chunks(context.Context, string) ([]*domain.Chunk, error) { return nil, nil }

func (f *fakeDocuments) Status(ctx context.Context, id string) (*domain.DocumentStatusReport, error) {
	doc, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.DocumentStatusReport{
		Document:       doc,
		ChunkCount:     3,
		EmbeddedChunks: 2,
		Tasks: map[domain.TaskType]domain.StageCounts{
			domain.TaskTypeExtractText: {Completed: 1},
			domain.TaskTypeEmbed:       {Completed: 2, Retry: 1},
		},
	}, nil
}

func (f *fakeDocuments) Cancel(_ context.Context, id, reason string) (int, error) {
	f.cancelled, f.reason = id, reason
	return 4, nil
}

func (f *fakeDocuments) Reprocess(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Pass++
	return doc, nil
}

func (f *fakeDocuments) Supersede(_ context.Context, newID, oldID string) error {
	f.superseded = [2]string{newID, oldID}
	return nil
}

func (f *fakeDocuments) Count(context.Context) (int, error) { return len(f.docs), nil }

type fakeSearch struct {
	query string
	opts  domain.SearchOptions
	resp  *domain.SearchResponse
}

func (f *fakeSearch) Search(_ context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	f.query, f.opts = query, opts
	if f.resp != nil {
		return f.resp, nil
	}
	return &domain.SearchResponse{Query: query}, nil
}

func (f *fakeSearch) LookupCode(_ context.Context, manufacturer, code string) ([]*domain.ErrorCodeEntry, error) {
	if code != "E07" {
		return nil, nil
	}
	return []*domain.ErrorCodeEntry{{
		Manufacturer:     manufacturer,
		Code:             "E07",
		NormalizedCode:   "E7",
		Description:      "Drain pump blocked",
		Remediation:      "Clean the pump filter",
		Severity:         domain.SeverityHigh,
		AlternativeForms: []string{"E-07"},
		SourceDocumentID: "doc-1",
	}}, nil
}

type fakeTasks struct {
	filter driven.TaskFilter
}

func (f *fakeTasks) Get(_ context.Context, id string) (*domain.Task, error) {
	if id != "task-1" {
		return nil, domain.ErrNotFound
	}
	return &domain.Task{ID: id, Type: domain.TaskTypeChunk, Status: domain.TaskStatusPending}, nil
}

func (f *fakeTasks) List(_ context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	f.filter = filter
	return []*domain.Task{{
		ID:          "task-1",
		Type:        domain.TaskTypeEmbed,
		DocumentID:  "doc-1",
		TargetID:    "chunk-1",
		Status:      domain.TaskStatusFailed,
		Attempts:    5,
		MaxAttempts: 5,
		Error:       "provider unavailable",
	}}, nil
}

func (f *fakeTasks) Stats(context.Context) (*driven.QueueStats, error) {
	return &driven.QueueStats{PendingCount: 7, FailedCount: 2, OldestPendingAge: 90}, nil
}

type fakeMaintenance struct{}

func (fakeMaintenance) RunOnce(context.Context) services.MaintenanceReport {
	return services.MaintenanceReport{Promoted: 1, Reclaimed: 2, Purged: 3}
}

type testApp struct {
	app       *App
	admission *fakeAdmission
	documents *fakeDocuments
	search    *fakeSearch
	tasks     *fakeTasks
	closed    bool
}

func newTestApp() *testApp {
	ta := &testApp{
		admission: &fakeAdmission{},
		documents: &fakeDocuments{docs: map[string]*domain.Document{
			"doc-1": {ID: "doc-1", Filename: "manual.pdf", Type: domain.DocumentTypeServiceManual, Status: domain.DocumentStatusCompleted, Progress: 100, Pass: 1},
		}},
		search: &fakeSearch{},
		tasks:  &fakeTasks{},
	}
	ta.app = &App{
		Admission:   ta.admission,
		Documents:   ta.documents,
		Search:      ta.search,
		Tasks:       ta.tasks,
		Maintenance: fakeMaintenance{},
		Close:       func() { ta.closed = true },
	}
	return ta
}

// execute runs the root command against the app and returns its output.
func (ta *testApp) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand("test", func(context.Context) (*App, error) { return ta.app, nil })
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCommand_Version(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "test")
}

func TestRootCommand_LoaderError(t *testing.T) {
	root := NewRootCommand("test", func(context.Context) (*App, error) {
		return nil, errors.New("database down")
	})
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"tasks", "stats"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database down")
}

func TestRootCommand_ArgumentErrorsSkipLoader(t *testing.T) {
	loaded := false
	root := NewRootCommand("test", func(context.Context) (*App, error) {
		loaded = true
		return nil, nil
	})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"search"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
	assert.False(t, loaded)
}

func TestSearchCmd_PassesFilters(t *testing.T) {
	ta := newTestApp()
	_, err := ta.execute(t, "search", "-n", "5", "-m", "Acme", "-t", "bulletin", "E07 drain")
	require.NoError(t, err)

	assert.Equal(t, "E07 drain", ta.search.query)
	assert.Equal(t, 5, ta.search.opts.MaxResults)
	assert.Equal(t, []string{"Acme"}, ta.search.opts.Filters.Manufacturers)
	assert.Equal(t, []domain.DocumentType{domain.DocumentTypeBulletin}, ta.search.opts.Filters.DocumentTypes)
	assert.True(t, ta.closed)
}

func TestSearchCmd_RejectsUnknownType(t *testing.T) {
	ta := newTestApp()
	_, err := ta.execute(t, "search", "-t", "novel", "pump")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearchCmd_Output(t *testing.T) {
	ta := newTestApp()
	ta.search.resp = &domain.SearchResponse{
		Query:           "E-07",
		NormalizedQuery: "E7",
		Results: []*domain.SearchResult{
			{
				Kind:        domain.ResultKindErrorCode,
				Entry:       &domain.ErrorCodeEntry{Manufacturer: "Acme", Code: "E07", Description: "Drain pump blocked"},
				Score:       1,
				MatchedCode: "E7",
			},
			{
				Kind:     domain.ResultKindChunk,
				Chunk:    &domain.Chunk{Text: "Check the   drain pump\nfor debris", StartPage: 12, EndPage: 13},
				Document: &domain.Document{ID: "doc-1", Filename: "manual.pdf"},
				Score:    0.5,
			},
		},
	}

	out, err := ta.execute(t, "search", "E-07")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme E07")
	assert.Contains(t, out, "manual.pdf pp.12-13")
	assert.Contains(t, out, "Check the drain pump for debris")
	assert.Contains(t, out, "Matched: E7")
}

func TestSearchCmd_NoResults(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "search", "nothing")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestLookupCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "lookup", "Acme", "E07")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme E07")
	assert.Contains(t, out, "Fix: Clean the pump filter")
	assert.Contains(t, out, "Also written: E-07")

	out, err = ta.execute(t, "lookup", "Acme", "E99")
	require.NoError(t, err)
	assert.Contains(t, out, "No entries found.")
}

func TestDocumentsListCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "documents", "list", "--status", "completed", "-m", "Acme", "-n", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "manual.pdf")
	assert.Contains(t, out, "100%")
	assert.Equal(t, domain.DocumentStatusCompleted, ta.documents.listFilter.Status)
	assert.Equal(t, "Acme", ta.documents.listFilter.Manufacturer)
	assert.Equal(t, 10, ta.documents.listFilter.Limit)
}

func TestDocumentsStatusCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "docs", "status", "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Chunks:    3 (2 embedded, 0 failed)")
	assert.Contains(t, out, string(domain.TaskTypeExtractSignals))

	_, err = ta.execute(t, "docs", "status", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentsCancelCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "documents", "cancel", "doc-1", "--reason", "wrong file")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled doc-1 (4 tasks).")
	assert.Equal(t, "wrong file", ta.documents.reason)
}

func TestDocumentsReprocessCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "documents", "reprocess", "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "pass 2")
}

func TestDocumentsSupersedeCmd(t *testing.T) {
	ta := newTestApp()
	_, err := ta.execute(t, "documents", "supersede", "doc-2", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, [2]string{"doc-2", "doc-1"}, ta.documents.superseded)
}

func TestTasksListCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "tasks", "list", "--status", "failed", "-t", "embed", "-d", "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "provider unavailable")
	assert.Contains(t, out, "5/5")
	assert.Equal(t, domain.TaskStatusFailed, ta.tasks.filter.Status)
	assert.Equal(t, domain.TaskTypeEmbed, ta.tasks.filter.Type)
	assert.Equal(t, "doc-1", ta.tasks.filter.DocumentID)
}

func TestTasksListCmd_RejectsUnknownType(t *testing.T) {
	ta := newTestApp()
	_, err := ta.execute(t, "tasks", "list", "-t", "transcode")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTasksStatsCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "tasks", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:     7")
	assert.Contains(t, out, "Oldest pending: 1m30s")
}

func TestTasksGetCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "tasks", "get", "task-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "task-1"`)
}

func TestMaintenanceRunCmd(t *testing.T) {
	ta := newTestApp()
	out, err := ta.execute(t, "maintenance", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "Reclaimed:     2")
	assert.Contains(t, out, "Purged:        3")
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.html", ".hidden", filepath.Join("sub", "c.txt"), filepath.Join(".git", "config")} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	}

	files, err := collectFiles([]string{dir, filepath.Join(dir, "b.pdf")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.html"),
		filepath.Join(dir, "b.pdf"),
		filepath.Join(dir, "sub", "c.txt"),
	}, files)

	_, err = collectFiles([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestIngestCmd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("drain pump manual"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.txt"), []byte("drain pump manual"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "three.bin"), []byte{0x00, 0x01, 0x02, 0xff}, 0o644))

	ta := newTestApp()
	ta.app.Supports = func(mimeType string) bool { return mimeType != "application/octet-stream" }

	out, err := ta.execute(t, "ingest", "-m", "Acme", "-c", "1", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "new      "+filepath.Join(dir, "one.txt"))
	assert.Contains(t, out, "exists   "+filepath.Join(dir, "two.txt"))
	assert.Contains(t, out, "skipped  "+filepath.Join(dir, "three.bin"))
	assert.Contains(t, out, "Admitted 1 new document(s), 0 error(s).")

	require.Len(t, ta.admission.hints, 2)
	assert.Equal(t, "Acme", ta.admission.hints[0].Manufacturer)
	assert.Contains(t, ta.admission.hints[0].MimeType, "text/plain")
}

func TestIngestCmd_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("text"), 0o644))

	ta := newTestApp()
	ta.admission.err = domain.ErrTooLarge

	out, err := ta.execute(t, "ingest", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 file(s) failed")
	assert.Contains(t, out, "error    ")
}

func TestIngestCmd_ProcessWaitsForDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("fresh content"), 0o644))

	ta := newTestApp()
	ta.documents.docs["doc-new.txt"] = &domain.Document{ID: "doc-new.txt", Filename: "new.txt", Status: domain.DocumentStatusCompleted}
	workerRan := make(chan struct{}, 1)
	ta.app.RunWorker = func(ctx context.Context) error {
		workerRan <- struct{}{}
		<-ctx.Done()
		return nil
	}

	out, err := ta.execute(t, "ingest", "--process", "--poll", "10ms", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	<-workerRan
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a \n b\tc", 10))
	assert.Equal(t, "abc...", snippet("abcdef", 3))
}

func TestMigrateCmd(t *testing.T) {
	ta := newTestApp()
	migrated := false
	ta.app.Migrate = func(context.Context) error {
		migrated = true
		return nil
	}
	out, err := ta.execute(t, "migrate")
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Contains(t, out, "Schema is up to date.")
}

func TestServeCmd_NotConfigured(t *testing.T) {
	ta := newTestApp()
	_, err := ta.execute(t, "api")
	assert.EqualError(t, err, "api not configured")
	_, err = ta.execute(t, "worker")
	assert.EqualError(t, err, "worker not configured")
}

func TestServeCmd_MigrationFailureStopsStartup(t *testing.T) {
	ta := newTestApp()
	started := false
	ta.app.Migrate = func(context.Context) error { return errors.New("schema locked") }
	ta.app.RunWorker = func(context.Context) error {
		started = true
		return nil
	}
	_, err := ta.execute(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema locked")
	assert.False(t, started)
}

func TestServeAll_StopsBothOnFailure(t *testing.T) {
	workerStopped := make(chan struct{})
	app := &App{
		ServeAPI: func(context.Context) error { return errors.New("address in use") },
		RunWorker: func(ctx context.Context) error {
			<-ctx.Done()
			close(workerStopped)
			return nil
		},
	}
	err := serveAll(context.Background(), app)
	assert.EqualError(t, err, "address in use")
	<-workerStopped
}
