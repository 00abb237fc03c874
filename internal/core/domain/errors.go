package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedInput indicates the file format cannot be ingested
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrTooLarge indicates an upload exceeds the configured size limit
	ErrTooLarge = errors.New("input too large")

	// ErrTaskNotClaimed indicates an ack/nack for a task this worker does not hold
	ErrTaskNotClaimed = errors.New("task not claimed by this worker")

	// ErrQueueEmpty indicates no task became available before the wait elapsed
	ErrQueueEmpty = errors.New("queue empty")

	// ErrCancelled indicates the document's processing was cancelled
	ErrCancelled = errors.New("processing cancelled")

	// ErrStageNotReady indicates a stage was asked to run before its inputs exist
	ErrStageNotReady = errors.New("stage inputs not ready")

	// ErrDuplicateChunk indicates a chunk write collided with an existing fingerprint
	ErrDuplicateChunk = errors.New("duplicate chunk fingerprint")

	// ErrNoHandler indicates no stage handler is registered for a task type
	ErrNoHandler = errors.New("no handler for task type")

	// ErrTimeout indicates an external call exceeded its deadline
	ErrTimeout = errors.New("timeout")

	// ErrServiceUnavailable indicates a backend or provider could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)
