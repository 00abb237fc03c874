package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrAlreadyExists", ErrAlreadyExists, "already exists"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrUnsupportedInput", ErrUnsupportedInput, "unsupported input"},
		{"ErrTooLarge", ErrTooLarge, "input too large"},
		{"ErrTaskNotClaimed", ErrTaskNotClaimed, "task not claimed by this worker"},
		{"ErrQueueEmpty", ErrQueueEmpty, "queue empty"},
		{"ErrCancelled", ErrCancelled, "processing cancelled"},
		{"ErrDuplicateChunk", ErrDuplicateChunk, "duplicate chunk fingerprint"},
		{"ErrTimeout", ErrTimeout, "timeout"},
		{"ErrServiceUnavailable", ErrServiceUnavailable, "service unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrInvalidInput,
		ErrUnsupportedInput,
		ErrTooLarge,
		ErrTaskNotClaimed,
		ErrQueueEmpty,
		ErrCancelled,
		ErrStageNotReady,
		ErrDuplicateChunk,
		ErrNoHandler,
		ErrTimeout,
		ErrServiceUnavailable,
	}

	for i, a := range allErrors {
		for j, b := range allErrors {
			if i != j && errors.Is(a, b) {
				t.Errorf("errors %d and %d should be distinct", i, j)
			}
		}
	}
}

func TestErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("admit: %w", ErrUnsupportedInput)
	if !errors.Is(wrapped, ErrUnsupportedInput) {
		t.Error("expected wrapped error to match sentinel")
	}
}
