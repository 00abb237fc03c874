package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType identifies the pipeline stage a task runs
type TaskType string

const (
	// TaskTypeExtractText converts the stored file into plain text
	TaskTypeExtractText TaskType = "extract_text"
	// TaskTypeChunk splits the document text into chunks
	TaskTypeChunk TaskType = "chunk"
	// TaskTypeExtractSignals annotates one chunk with error codes and part numbers
	TaskTypeExtractSignals TaskType = "extract_signals"
	// TaskTypeEmbed attaches a vector to one chunk
	TaskTypeEmbed TaskType = "embed"
	// TaskTypeIndex finalises a document and makes it searchable
	TaskTypeIndex TaskType = "index"
)

// PipelineStages is the fixed stage order of a document pass
var PipelineStages = []TaskType{
	TaskTypeExtractText,
	TaskTypeChunk,
	TaskTypeExtractSignals,
	TaskTypeEmbed,
	TaskTypeIndex,
}

// IsValid reports whether t is a known pipeline stage
func (t TaskType) IsValid() bool {
	return t.stage() >= 0
}

func (t TaskType) stage() int {
	for i, s := range PipelineStages {
		if s == t {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows t, or false for the last stage
func (t TaskType) Next() (TaskType, bool) {
	i := t.stage()
	if i < 0 || i == len(PipelineStages)-1 {
		return "", false
	}
	return PipelineStages[i+1], true
}

// Previous returns the stage that precedes t, or false for the first stage
func (t TaskType) Previous() (TaskType, bool) {
	i := t.stage()
	if i <= 0 {
		return "", false
	}
	return PipelineStages[i-1], true
}

// PerChunk reports whether the stage fans out to one task per chunk
func (t TaskType) PerChunk() bool {
	return t == TaskTypeExtractSignals || t == TaskTypeEmbed
}

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusRetry      TaskStatus = "retry"
)

// IsTerminal reports whether the status can no longer change
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task priorities. Lower values are served first.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// ClampPriority forces p into the 1..10 range
func ClampPriority(p int) int {
	if p < PriorityHighest {
		return PriorityHighest
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}

// BackoffPolicy computes the delay before a failed task becomes claimable again
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoffPolicy doubles from one second up to five minutes
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:    time.Second,
		Multiplier: 2,
		Max:        5 * time.Minute,
	}
}

// Delay returns the backoff after the given number of attempts.
// Exponential: Initial * Multiplier^attempts, capped at Max.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if attempts < 0 {
		attempts = 0
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempts))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 0)) {
		return p.Max
	}
	return time.Duration(d)
}

// Task represents a unit of pipeline work processed by workers
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies which stage this task runs
	Type TaskType `json:"type"`

	// DocumentID is the document this task belongs to
	DocumentID string `json:"document_id"`

	// TargetID is the chunk id for per-chunk stages, otherwise the document id
	TargetID string `json:"target_id"`

	// Pass is the document processing generation that created this task
	Pass int `json:"pass"`

	// DedupKey makes enqueueing idempotent: a second task with the same key is ignored
	DedupKey string `json:"dedup_key"`

	// Payload contains stage-specific data
	Payload map[string]string `json:"payload,omitempty"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (1 = highest, 10 = lowest)
	Priority int `json:"priority"`

	// Attempts is how many times this task has been claimed
	Attempts int `json:"attempts"`

	// MaxAttempts is the number of claims allowed before the task is dead-lettered
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message
	Error string `json:"error,omitempty"`

	// ClaimedBy identifies the worker holding the task while processing
	ClaimedBy string `json:"claimed_by,omitempty"`

	// LeaseExpiresAt is when an unacknowledged claim is considered abandoned
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// ScheduledFor is the earliest time the task may be claimed
	ScheduledFor time.Time `json:"scheduled_for"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskDedupKey builds the idempotency key of a stage task
func TaskDedupKey(taskType TaskType, targetID string, pass int) string {
	return fmt.Sprintf("%s:%s:%d", taskType, targetID, pass)
}

// NewTask creates a pending task for one pipeline stage
func NewTask(taskType TaskType, documentID, targetID string, pass int) *Task {
	now := time.Now()
	if targetID == "" {
		targetID = documentID
	}
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		DocumentID:   documentID,
		TargetID:     targetID,
		Pass:         pass,
		DedupKey:     TaskDedupKey(taskType, targetID, pass),
		Status:       TaskStatusPending,
		Priority:     PriorityDefault,
		Attempts:     0,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// CanRetry returns true if the task has attempts left
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is claimable now
func (t *Task) IsReady(now time.Time) bool {
	return t.Status == TaskStatusPending && !t.ScheduledFor.After(now)
}

// MarkProcessing records a claim by workerID holding a lease of the given length
func (t *Task) MarkProcessing(workerID string, lease time.Duration) {
	now := time.Now()
	expires := now.Add(lease)
	t.Status = TaskStatusProcessing
	t.ClaimedBy = workerID
	t.LeaseExpiresAt = &expires
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.LeaseExpiresAt = nil
	t.Error = ""
}

// MarkFailed dead-letters the task
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.LeaseExpiresAt = nil
	t.Error = err
}

// Retry parks the task until its backoff elapses
func (t *Task) Retry(err string, policy BackoffPolicy) {
	now := time.Now()
	t.Status = TaskStatusRetry
	t.UpdatedAt = now
	t.LeaseExpiresAt = nil
	t.ClaimedBy = ""
	t.Error = err
	t.ScheduledFor = now.Add(policy.Delay(t.Attempts))
}

// Fail applies a processing failure: retry while attempts remain, otherwise dead-letter.
func (t *Task) Fail(err string, policy BackoffPolicy) {
	if t.CanRetry() {
		t.Retry(err, policy)
		return
	}
	t.MarkFailed(err)
}

// Promote moves a retry task back to pending once its backoff has elapsed.
// It returns false if the task is not yet due.
func (t *Task) Promote(now time.Time) bool {
	if t.Status != TaskStatusRetry || t.ScheduledFor.After(now) {
		return false
	}
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	return true
}

// LeaseExpired reports whether a processing task has outlived its lease
func (t *Task) LeaseExpired(now time.Time) bool {
	return t.Status == TaskStatusProcessing && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now)
}

// StageCounts tallies the tasks of one stage for one document pass
type StageCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retry      int `json:"retry"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add counts one task status
func (c *StageCounts) Add(status TaskStatus, n int) {
	switch status {
	case TaskStatusPending:
		c.Pending += n
	case TaskStatusProcessing:
		c.Processing += n
	case TaskStatusRetry:
		c.Retry += n
	case TaskStatusCompleted:
		c.Completed += n
	case TaskStatusFailed:
		c.Failed += n
	}
}

// Total is the number of tasks in the stage
func (c StageCounts) Total() int {
	return c.Pending + c.Processing + c.Retry + c.Completed + c.Failed
}

// Settled reports whether every task of the stage is terminal
func (c StageCounts) Settled() bool {
	return c.Total() > 0 && c.Pending+c.Processing+c.Retry == 0
}

// TaskResult represents the outcome of processing a task
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
