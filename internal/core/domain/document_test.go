package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseDocumentType(t *testing.T) {
	tests := []struct {
		in      string
		want    DocumentType
		wantErr bool
	}{
		{"", DocumentTypeServiceManual, false},
		{"service_manual", DocumentTypeServiceManual, false},
		{"Parts-Catalog", DocumentTypePartsCatalog, false},
		{" error_code_database ", DocumentTypeErrorCodeDatabase, false},
		{"transcript", DocumentTypeTranscript, false},
		{"brochure", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDocumentType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument("abc", 42, DocumentTypeBulletin)

	if doc.ID == "" {
		t.Error("expected ID")
	}
	if doc.Status != DocumentStatusPending {
		t.Errorf("expected pending, got %s", doc.Status)
	}
	if doc.Pass != 1 {
		t.Errorf("expected first pass, got %d", doc.Pass)
	}
	if doc.Searchable() {
		t.Error("pending document should not be searchable")
	}

	doc.Status = DocumentStatusCompleted
	if !doc.Searchable() {
		t.Error("completed document should be searchable")
	}
	doc.SupersededBy = "newer"
	if doc.Searchable() {
		t.Error("superseded document should not be searchable")
	}
}

func TestDocumentStatusIsTerminal(t *testing.T) {
	if DocumentStatusPending.IsTerminal() || DocumentStatusProcessing.IsTerminal() {
		t.Error("in-flight statuses are not terminal")
	}
	if !DocumentStatusCompleted.IsTerminal() || !DocumentStatusFailed.IsTerminal() {
		t.Error("completed and failed are terminal")
	}
}

func TestSeverityClamp(t *testing.T) {
	if Severity(0).Clamp() != SeverityMedium {
		t.Error("zero severity should clamp to medium")
	}
	if Severity(9).Clamp() != SeverityMedium {
		t.Error("out of range severity should clamp to medium")
	}
	if SeverityCritical.Clamp() != SeverityCritical {
		t.Error("valid severity should be kept")
	}
}

func TestErrorCodeEntryMergeForms(t *testing.T) {
	e := &ErrorCodeEntry{Code: "C-1234", AlternativeForms: []string{"C1234"}}
	e.MergeForms("C-1234", "c 1234", "C1234", "", "c 1234")

	want := []string{"C1234", "c 1234"}
	if !reflect.DeepEqual(e.AlternativeForms, want) {
		t.Errorf("expected %v, got %v", want, e.AlternativeForms)
	}
}
