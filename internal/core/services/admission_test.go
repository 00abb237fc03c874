package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

func TestAdmission_NewDocument(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	res, err := h.admission.Admit(ctx, []byte(fuserManual), driving.AdmissionHint{
		Filename:     " fuser.txt ",
		DocumentType: "Service-Manual",
		Manufacturer: "ricoh",
		Products:     []string{"MP C3003", " ", "MP C3503"},
		Language:     "en",
		Priority:     2,
	})
	require.NoError(t, err)
	assert.True(t, res.IsNew)

	doc := res.Document
	assert.Equal(t, res.DocumentID, doc.ID)
	assert.Equal(t, "fuser.txt", doc.Filename)
	assert.Equal(t, domain.DocumentTypeServiceManual, doc.Type)
	assert.Equal(t, "text/plain", doc.MimeType)
	assert.Equal(t, []string{"MP C3003", "MP C3503"}, doc.Products)
	assert.Equal(t, domain.DocumentStatusPending, doc.Status)
	assert.Equal(t, 1, doc.Pass)
	assert.Len(t, doc.ContentHash, 64)
	assert.Equal(t, "mem://sha256/"+doc.ContentHash, doc.StorageLocator)

	tasks := h.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskTypeExtractText, tasks[0].Type)
	assert.Equal(t, doc.ID, tasks[0].TargetID)
	assert.Equal(t, 2, tasks[0].Priority)
}

func TestAdmission_DuplicateContent(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	first, err := h.admission.Admit(ctx, []byte(fuserManual), driving.AdmissionHint{Filename: "a.txt"})
	require.NoError(t, err)
	second, err := h.admission.Admit(ctx, []byte(fuserManual), driving.AdmissionHint{Filename: "b.txt", Manufacturer: "canon"})
	require.NoError(t, err)

	assert.True(t, first.IsNew)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, "a.txt", second.Document.Filename, "metadata of the first upload wins")
	assert.Len(t, h.queue.Tasks(), 1)
	assert.Equal(t, 1, h.blobs.Len())
}

func TestAdmission_ConcurrentDuplicates(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	const uploads = 16
	ids := make([]string, uploads)
	created := make([]bool, uploads)
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.admission.Admit(ctx, []byte(errorCodeTable), driving.AdmissionHint{})
			if err == nil {
				ids[i] = res.DocumentID
				created[i] = res.IsNew
			}
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i := range ids {
		require.NotEmpty(t, ids[i])
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount)
	n, err := h.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, h.queue.TasksOfType(domain.TaskTypeExtractText), 1)
}

func TestAdmission_Validation(t *testing.T) {
	h := newPipelineHarness(t)
	h.normalisers.GetFn = func(mimeType string) driven.Normaliser {
		if strings.HasPrefix(mimeType, "text/") {
			return mocks.NewMockNormaliser()
		}
		return nil
	}
	small := NewAdmissionService(AdmissionConfig{
		Documents:   h.docs,
		Blobs:       h.blobs,
		Queue:       h.queue,
		Normalisers: h.normalisers,
		Pipeline:    h.pipeline,
		MaxBytes:    16,
	})

	tests := []struct {
		name    string
		svc     driving.AdmissionService
		data    []byte
		hint    driving.AdmissionHint
		wantErr error
	}{
		{"empty", h.admission, nil, driving.AdmissionHint{}, domain.ErrInvalidInput},
		{"too large", small, []byte(fuserManual), driving.AdmissionHint{}, domain.ErrTooLarge},
		{"unknown type", h.admission, []byte("hello"), driving.AdmissionHint{DocumentType: "novel"}, domain.ErrInvalidInput},
		{"binary", h.admission, []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00}, driving.AdmissionHint{}, domain.ErrUnsupportedInput},
		{"missing supersedes", h.admission, []byte("hello"), driving.AdmissionHint{Supersedes: "nope"}, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Admit(context.Background(), tt.data, tt.hint)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, h.queue.Tasks())
	assert.Zero(t, h.blobs.Len())
}

func TestAdmission_MIMETypeHint(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	res, err := h.admission.Admit(ctx, []byte("# Fuser\n\nReplace the unit.\n"), driving.AdmissionHint{MimeType: "text/markdown; charset=utf-8"})
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", res.Document.MimeType)

	// A hint only refines plain text detection.
	res, err = h.admission.Admit(ctx, []byte("<html><body><p>Fuser</p></body></html>"), driving.AdmissionHint{MimeType: "text/markdown"})
	require.NoError(t, err)
	assert.Equal(t, "text/html", res.Document.MimeType)
}

func TestAdmission_Supersedes(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	old := h.admit(t, fuserManual, driving.AdmissionHint{})
	res, err := h.admission.Admit(ctx, []byte(errorCodeTable), driving.AdmissionHint{Supersedes: old.ID})
	require.NoError(t, err)
	assert.Equal(t, old.ID, res.Document.Supersedes)

	stored := h.document(t, old.ID)
	assert.Equal(t, res.DocumentID, stored.SupersededBy)
}

func TestAdmission_EnqueueFailureStillAdmits(t *testing.T) {
	h := newPipelineHarness(t)
	h.queue.EnqueueErr = errors.New("queue unavailable")

	res, err := h.admission.Admit(context.Background(), []byte(fuserManual), driving.AdmissionHint{})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, domain.DocumentStatusPending, h.document(t, res.DocumentID).Status)
	assert.Empty(t, h.queue.Tasks())
}

func TestAdmission_BlobFailure(t *testing.T) {
	h := newPipelineHarness(t)
	h.blobs.PutErr = errors.New("disk full")

	_, err := h.admission.Admit(context.Background(), []byte(fuserManual), driving.AdmissionHint{})
	require.Error(t, err)
	n, _ := h.docs.Count(context.Background())
	assert.Zero(t, n)
}
