package mocks

import (
	"context"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// MockNormaliser is a mock implementation of Normaliser for testing
type MockNormaliser struct {
	SupportedTypesFn func() []string
	PriorityFn       func() int
	NormaliseFn      func(data []byte, mimeType string) (*driven.ExtractedText, error)
}

func NewMockNormaliser() *MockNormaliser {
	return &MockNormaliser{}
}

// Normalise returns the bytes as text by default, one page per form feed.
func (m *MockNormaliser) Normalise(ctx context.Context, data []byte, mimeType string) (*driven.ExtractedText, error) {
	if m.NormaliseFn != nil {
		return m.NormaliseFn(data, mimeType)
	}
	text := string(data)
	return &driven.ExtractedText{Text: text, PageCount: strings.Count(text, "\f") + 1}, nil
}

func (m *MockNormaliser) SupportedTypes() []string {
	if m.SupportedTypesFn != nil {
		return m.SupportedTypesFn()
	}
	return []string{"text/plain", "text/html"}
}

func (m *MockNormaliser) Priority() int {
	if m.PriorityFn != nil {
		return m.PriorityFn()
	}
	return 100
}

// MockNormaliserRegistry is a mock implementation of NormaliserRegistry for testing
type MockNormaliserRegistry struct {
	GetFn      func(mimeType string) driven.Normaliser
	GetAllFn   func(mimeType string) []driven.Normaliser
	RegisterFn func(normaliser driven.Normaliser)
	normaliser driven.Normaliser
}

func NewMockNormaliserRegistry() *MockNormaliserRegistry {
	return &MockNormaliserRegistry{
		normaliser: NewMockNormaliser(),
	}
}

func (m *MockNormaliserRegistry) Get(mimeType string) driven.Normaliser {
	if m.GetFn != nil {
		return m.GetFn(mimeType)
	}
	return m.normaliser
}

func (m *MockNormaliserRegistry) GetAll(mimeType string) []driven.Normaliser {
	if m.GetAllFn != nil {
		return m.GetAllFn(mimeType)
	}
	if m.normaliser != nil {
		return []driven.Normaliser{m.normaliser}
	}
	return nil
}

func (m *MockNormaliserRegistry) Register(normaliser driven.Normaliser) {
	if m.RegisterFn != nil {
		m.RegisterFn(normaliser)
	}
	m.normaliser = normaliser
}

// List returns all registered MIME types
func (m *MockNormaliserRegistry) List() []string {
	if m.normaliser != nil {
		return m.normaliser.SupportedTypes()
	}
	return []string{}
}

// SetNormaliser sets the normaliser returned by Get
func (m *MockNormaliserRegistry) SetNormaliser(n driven.Normaliser) {
	m.normaliser = n
}

// MockTextPipeline is a mock implementation of TextPipeline for testing
type MockTextPipeline struct {
	ProcessFn func(text string) string
	AddFn     func(processor driven.TextProcessor)
	ListFn    func() []string
}

func NewMockTextPipeline() *MockTextPipeline {
	return &MockTextPipeline{}
}

// Process returns the text unchanged by default.
func (m *MockTextPipeline) Process(text string) string {
	if m.ProcessFn != nil {
		return m.ProcessFn(text)
	}
	return text
}

func (m *MockTextPipeline) Add(processor driven.TextProcessor) {
	if m.AddFn != nil {
		m.AddFn(processor)
	}
}

func (m *MockTextPipeline) List() []string {
	if m.ListFn != nil {
		return m.ListFn()
	}
	return []string{"mock-processor"}
}
