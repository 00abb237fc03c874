package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Queue implements TaskQueue
var _ driven.TaskQueue = (*Queue)(nil)

// notifyChannel is signalled whenever a task becomes claimable
const notifyChannel = "sercha_tasks"

const taskColumns = `id, type, document_id, target_id, pass, dedup_key, payload, status,
	priority, attempts, max_attempts, error, claimed_by, lease_expires_at, scheduled_for,
	created_at, updated_at, started_at, completed_at`

// Queue implements TaskQueue using PostgreSQL with SKIP LOCKED claims.
// Waiting dequeues are woken by LISTEN/NOTIFY and fall back to polling.
type Queue struct {
	db       *sql.DB
	opts     driven.QueueOptions
	listener *pq.Listener
	logger   *slog.Logger
}

// NewQueue creates a PostgreSQL-backed task queue on the tasks table.
// When listenURL is empty no LISTEN connection is opened and waiting
// dequeues poll every opts.PollInterval.
func NewQueue(db *sql.DB, listenURL string, opts driven.QueueOptions, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Lease <= 0 {
		opts.Lease = driven.DefaultQueueOptions().Lease
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = driven.DefaultQueueOptions().PollInterval
	}
	q := &Queue{db: db, opts: opts, logger: logger}

	if listenURL != "" {
		q.listener = pq.NewListener(listenURL, 100*time.Millisecond, 10*time.Second,
			func(ev pq.ListenerEventType, err error) {
				if err != nil {
					logger.Warn("task listener event", "event", ev, "error", err)
				}
			})
		if err := q.listener.Listen(notifyChannel); err != nil {
			_ = q.listener.Close()
			return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
		}
	}
	return q, nil
}

type taskRow struct {
	t                        domain.Task
	payload                  []byte
	lease, started, finished sql.NullTime
}

func (r *taskRow) dest() []any {
	return []any{
		&r.t.ID,
		&r.t.Type,
		&r.t.DocumentID,
		&r.t.TargetID,
		&r.t.Pass,
		&r.t.DedupKey,
		&r.payload,
		&r.t.Status,
		&r.t.Priority,
		&r.t.Attempts,
		&r.t.MaxAttempts,
		&r.t.Error,
		&r.t.ClaimedBy,
		&r.lease,
		&r.t.ScheduledFor,
		&r.t.CreatedAt,
		&r.t.UpdatedAt,
		&r.started,
		&r.finished,
	}
}

func (r *taskRow) task() (*domain.Task, error) {
	t := r.t
	if len(r.payload) > 0 {
		if err := json.Unmarshal(r.payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	t.LeaseExpiresAt = nullTimePtr(r.lease)
	t.StartedAt = nullTimePtr(r.started)
	t.CompletedAt = nullTimePtr(r.finished)
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var r taskRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.task()
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insert writes one task unless its dedup key exists
func insert(ctx context.Context, ex execer, task *domain.Task) (bool, error) {
	if task.DedupKey == "" {
		task.DedupKey = domain.TaskDedupKey(task.Type, task.TargetID, task.Pass)
	}
	task.Priority = domain.ClampPriority(task.Priority)
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	result, err := ex.ExecContext(ctx, `
		INSERT INTO tasks (
			id, type, document_id, target_id, pass, dedup_key, payload, status,
			priority, attempts, max_attempts, error, created_at, updated_at, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dedup_key) DO NOTHING
	`,
		task.ID,
		task.Type,
		task.DocumentID,
		task.TargetID,
		task.Pass,
		task.DedupKey,
		payload,
		task.Status,
		task.Priority,
		task.Attempts,
		task.MaxAttempts,
		task.Error,
		task.CreatedAt,
		task.UpdatedAt,
		task.ScheduledFor,
	)
	if err != nil {
		return false, fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

func notify(ctx context.Context, ex execer) error {
	_, err := ex.ExecContext(ctx, `SELECT pg_notify($1, '')`, notifyChannel)
	return err
}

// Enqueue adds a task to the queue
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) (bool, error) {
	var inserted bool
	err := q.transaction(ctx, func(tx *sql.Tx) error {
		var err error
		if inserted, err = insert(ctx, tx, task); err != nil || !inserted {
			return err
		}
		return notify(ctx, tx)
	})
	return inserted, err
}

// EnqueueBatch adds multiple tasks atomically
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) (int, error) {
	count := 0
	err := q.transaction(ctx, func(tx *sql.Tx) error {
		for _, task := range tasks {
			ok, err := insert(ctx, tx, task)
			if err != nil {
				return err
			}
			if ok {
				count++
			}
		}
		if count == 0 {
			return nil
		}
		return notify(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Dequeue claims the next ready task with FOR UPDATE SKIP LOCKED, so
// concurrent workers never receive the same row.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*domain.Task, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = $1, claimed_by = $2,
			lease_expires_at = NOW() + $3 * INTERVAL '1 millisecond',
			attempts = attempts + 1, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $4 AND scheduled_for <= NOW()
			ORDER BY priority ASC, created_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		domain.TaskStatusProcessing, workerID, q.opts.Lease.Milliseconds(), domain.TaskStatusPending)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// DequeueWithTimeout retrieves the next task, waiting up to timeout for a
// notification. Without a listener it polls every PollInterval.
func (q *Queue) DequeueWithTimeout(ctx context.Context, workerID string, timeout time.Duration) (*domain.Task, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var wake <-chan *pq.Notification
	if q.listener != nil {
		wake = q.listener.Notify
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task, err := q.Dequeue(ctx, workerID)
		if err != nil || task != nil {
			return task, err
		}

		poll := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			poll.Stop()
			return nil, nil
		case <-wake:
			poll.Stop()
		case <-poll.C:
		}
	}
}

// Ack marks a task as completed
func (q *Queue) Ack(ctx context.Context, taskID, workerID string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1, completed_at = NOW(), updated_at = NOW(), error = '', lease_expires_at = NULL
		WHERE id = $2 AND status = $3 AND claimed_by = $4
	`, domain.TaskStatusCompleted, taskID, domain.TaskStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ack %s: %w", taskID, domain.ErrTaskNotClaimed)
	}
	return nil
}

// Nack records a failed attempt, scheduling a retry or dead-lettering the task
func (q *Queue) Nack(ctx context.Context, taskID, workerID, reason string) (*domain.Task, error) {
	var task *domain.Task
	err := q.transaction(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = scanTask(tx.QueryRowContext(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE id = $1 AND status = $2 AND claimed_by = $3
			FOR UPDATE
		`, taskID, domain.TaskStatusProcessing, workerID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("nack %s: %w", taskID, domain.ErrTaskNotClaimed)
		}
		if err != nil {
			return fmt.Errorf("select task: %w", err)
		}
		task.Fail(reason, q.opts.Backoff)
		return saveOutcome(ctx, tx, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// saveOutcome writes the fields Fail may change
func saveOutcome(ctx context.Context, ex execer, task *domain.Task) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1, error = $2, claimed_by = $3, lease_expires_at = $4,
			scheduled_for = $5, completed_at = $6, updated_at = $7
		WHERE id = $8
	`,
		task.Status,
		task.Error,
		task.ClaimedBy,
		nullTime(task.LeaseExpiresAt),
		task.ScheduledFor,
		nullTime(task.CompletedAt),
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	return nil
}

// PromoteRetries moves due retry tasks back to pending
func (q *Queue) PromoteRetries(ctx context.Context) (int, error) {
	var n int64
	err := q.transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, updated_at = NOW()
			WHERE status = $2 AND scheduled_for <= NOW()
		`, domain.TaskStatusPending, domain.TaskStatusRetry)
		if err != nil {
			return fmt.Errorf("promote retries: %w", err)
		}
		if n, err = result.RowsAffected(); err != nil || n == 0 {
			return err
		}
		return notify(ctx, tx)
	})
	return int(n), err
}

// ReclaimExpired fails every claim whose lease has run out
func (q *Queue) ReclaimExpired(ctx context.Context) ([]*domain.Task, error) {
	var reclaimed []*domain.Task
	err := q.transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE status = $1 AND lease_expires_at < NOW()
			FOR UPDATE SKIP LOCKED
		`, domain.TaskStatusProcessing)
		if err != nil {
			return fmt.Errorf("query expired: %w", err)
		}
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan task: %w", err)
			}
			reclaimed = append(reclaimed, task)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, task := range reclaimed {
			task.Fail("lease expired", q.opts.Backoff)
			if err := saveOutcome(ctx, tx, task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// CancelDocument dead-letters the open tasks of a document
func (q *Queue) CancelDocument(ctx context.Context, documentID, reason string) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1, error = $2, claimed_by = '', lease_expires_at = NULL,
			completed_at = NOW(), updated_at = NOW()
		WHERE document_id = $3 AND status NOT IN ($4, $5)
	`, domain.TaskStatusFailed, reason, documentID, domain.TaskStatusCompleted, domain.TaskStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// StageCounts tallies one stage of a document pass by status
func (q *Queue) StageCounts(ctx context.Context, documentID string, pass int, taskType domain.TaskType) (domain.StageCounts, error) {
	var counts domain.StageCounts
	rows, err := q.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks
		WHERE document_id = $1 AND pass = $2 AND type = $3
		GROUP BY status
	`, documentID, pass, taskType)
	if err != nil {
		return counts, fmt.Errorf("query stage counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan stage counts: %w", err)
		}
		counts.Add(domain.TaskStatus(status), n)
	}
	return counts, rows.Err()
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks retrieves tasks matching the filter
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE TRUE`
	var args []any
	argIndex := 1

	if filter.DocumentID != "" {
		query += fmt.Sprintf(" AND document_id = $%d", argIndex)
		args = append(args, filter.DocumentID)
		argIndex++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, filter.Type)
		argIndex++
	}

	query += " ORDER BY created_at DESC, seq DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// PurgeTasks removes old completed tasks. Dead-lettered tasks stay.
func (q *Queue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM tasks t
		WHERE t.status = $1 AND t.updated_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM tasks o
			WHERE o.document_id = t.document_id AND o.pass = t.pass
			  AND o.status IN ($3, $4, $5)
		  )
	`, domain.TaskStatusCompleted, time.Now().Add(-olderThan),
		domain.TaskStatusPending, domain.TaskStatusProcessing, domain.TaskStatusRetry)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}

		switch domain.TaskStatus(status) {
		case domain.TaskStatusPending:
			stats.PendingCount = count
		case domain.TaskStatusProcessing:
			stats.ProcessingCount = count
		case domain.TaskStatusRetry:
			stats.RetryCount = count
		case domain.TaskStatusCompleted:
			stats.CompletedCount = count
		case domain.TaskStatusFailed:
			stats.FailedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var age sql.NullInt64
	err = q.db.QueryRowContext(ctx, `
		SELECT EXTRACT(EPOCH FROM (NOW() - MIN(created_at)))::bigint
		FROM tasks WHERE status = $1
	`, domain.TaskStatusPending).Scan(&age)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query oldest age: %w", err)
	}
	if age.Valid {
		stats.OldestPendingAge = age.Int64
	}
	return stats, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close releases the LISTEN connection. The pool is owned by the caller.
func (q *Queue) Close() error {
	if q.listener != nil {
		return q.listener.Close()
	}
	return nil
}

func (q *Queue) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
