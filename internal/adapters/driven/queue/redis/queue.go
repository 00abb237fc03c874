package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// DefaultPrefix namespaces every queue key. The braces are a Redis Cluster
// hash tag: the claim and promote scripts touch task hashes they cannot name
// in KEYS, so every queue key must live in one slot.
const DefaultPrefix = "{sercha-ingest}:queue:"

// maxWatchRetries bounds optimistic transaction retries on a contended task
const maxWatchRetries = 5

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements TaskQueue on plain Redis data structures. Each task is a
// hash; a sorted set keyed by priority holds claimable tasks, with members
// "<created ms>:<seq>:<id>" so that equal priorities are served oldest first.
// Claims and acks run as Lua scripts so they are atomic against other workers.
//
// Keys under the prefix:
//
//	task:<id>     hash of task fields
//	dedup         hash dedup key -> task id
//	ready         zset priority -> member
//	scheduled     zset due ms -> task id (delayed pending and retry tasks)
//	leases        zset lease expiry ms -> task id
//	doc:<id>      set of the document's task ids
//	all           zset created ms -> task id
//	seq           insertion counter
//	wake          list pushed on every enqueue, popped by waiting workers
type Queue struct {
	client redis.UniversalClient
	opts   driven.QueueOptions
	prefix string
	logger *slog.Logger
}

// NewQueue creates a new Redis-backed task queue. The client is shared and
// not closed by the queue.
func NewQueue(client redis.UniversalClient, opts driven.QueueOptions, logger *slog.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := driven.DefaultQueueOptions()
	if opts.Lease <= 0 {
		opts.Lease = defaults.Lease
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	return &Queue{client: client, opts: opts, prefix: DefaultPrefix, logger: logger}, nil
}

// WithPrefix returns the queue using a different key namespace. A prefix
// without a hash tag is wrapped in one, so "custom:" becomes "{custom}:".
func (q *Queue) WithPrefix(prefix string) *Queue {
	q.prefix = hashTagged(prefix)
	return q
}

func hashTagged(prefix string) string {
	open := strings.Index(prefix, "{")
	if open >= 0 && strings.Index(prefix[open:], "}") > 1 {
		return prefix
	}
	return "{" + strings.TrimSuffix(prefix, ":") + "}:"
}

func (q *Queue) key(parts ...string) string {
	k := q.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (q *Queue) taskKey(id string) string { return q.key("task", id) }
func (q *Queue) docKey(id string) string  { return q.key("doc", id) }

var enqueueScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], unpack(ARGV, 8))
redis.call("SADD", KEYS[5], ARGV[2])
redis.call("ZADD", KEYS[6], ARGV[7], ARGV[2])
if tonumber(ARGV[5]) > tonumber(ARGV[6]) then
	redis.call("ZADD", KEYS[4], ARGV[5], ARGV[2])
else
	redis.call("ZADD", KEYS[3], ARGV[3], ARGV[4])
	redis.call("LPUSH", KEYS[7], "1")
	redis.call("LTRIM", KEYS[7], 0, 63)
end
return 1
`)

var dequeueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(due) do
	local f = redis.call("HMGET", ARGV[4] .. id, "status", "priority", "member")
	if f[1] == "pending" then
		redis.call("ZREM", KEYS[2], id)
		redis.call("ZADD", KEYS[1], f[2], f[3])
	end
end
local top = redis.call("ZRANGE", KEYS[1], 0, 0)
if #top == 0 then
	return false
end
redis.call("ZREM", KEYS[1], top[1])
local id = string.match(top[1], "([^:]+)$")
local k = ARGV[4] .. id
redis.call("HSET", k, "status", "processing", "claimed_by", ARGV[3], "lease_ms", ARGV[2],
	"started_ms", ARGV[1], "updated_ms", ARGV[1])
redis.call("HINCRBY", k, "attempts", 1)
redis.call("ZADD", KEYS[3], ARGV[2], id)
return id
`)

var ackScript = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "status", "claimed_by")
if f[1] ~= "processing" or f[2] ~= ARGV[2] then
	return 0
end
redis.call("HSET", KEYS[1], "status", "completed", "completed_ms", ARGV[3], "updated_ms", ARGV[3],
	"error", "", "lease_ms", "0")
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
local n = 0
for _, id in ipairs(due) do
	local k = ARGV[2] .. id
	local f = redis.call("HMGET", k, "status", "priority", "member")
	if f[1] == "retry" then
		redis.call("HSET", k, "status", "pending", "updated_ms", ARGV[1])
		n = n + 1
	end
	if f[1] == "retry" or f[1] == "pending" then
		redis.call("ZADD", KEYS[1], f[2], f[3])
	end
	redis.call("ZREM", KEYS[2], id)
end
if n > 0 then
	redis.call("LPUSH", KEYS[3], "1")
	redis.call("LTRIM", KEYS[3], 0, 63)
end
return n
`)

func ms(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func msPtr(t *time.Time) string {
	if t == nil {
		return "0"
	}
	return ms(*t)
}

func parseMS(s string) time.Time {
	n, _ := strconv.ParseInt(s, 10, 64)
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func parseMSPtr(s string) *time.Time {
	t := parseMS(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// taskData is the immutable part of a task, stored as JSON in one field
type taskData struct {
	ID          string            `json:"id"`
	Type        domain.TaskType   `json:"type"`
	DocumentID  string            `json:"document_id"`
	TargetID    string            `json:"target_id"`
	Pass        int               `json:"pass"`
	DedupKey    string            `json:"dedup_key"`
	Payload     map[string]string `json:"payload,omitempty"`
	MaxAttempts int               `json:"max_attempts"`
	CreatedAt   time.Time         `json:"created_at"`
}

// mutableFields are the hash fields scripts and transactions rewrite
func mutableFields(t *domain.Task) []any {
	return []any{
		"status", string(t.Status),
		"attempts", strconv.Itoa(t.Attempts),
		"error", t.Error,
		"claimed_by", t.ClaimedBy,
		"lease_ms", msPtr(t.LeaseExpiresAt),
		"scheduled_ms", ms(t.ScheduledFor),
		"updated_ms", ms(t.UpdatedAt),
		"started_ms", msPtr(t.StartedAt),
		"completed_ms", msPtr(t.CompletedAt),
	}
}

func toHash(t *domain.Task, member string) ([]any, error) {
	data, err := json.Marshal(taskData{
		ID:          t.ID,
		Type:        t.Type,
		DocumentID:  t.DocumentID,
		TargetID:    t.TargetID,
		Pass:        t.Pass,
		DedupKey:    t.DedupKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		CreatedAt:   t.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	fields := []any{
		"data", string(data),
		"member", member,
		"priority", strconv.Itoa(t.Priority),
		"type", string(t.Type),
		"pass", strconv.Itoa(t.Pass),
		"created_ms", ms(t.CreatedAt),
	}
	return append(fields, mutableFields(t)...), nil
}

// fromHash rebuilds a task and returns its ready-set member
func fromHash(h map[string]string) (*domain.Task, string, error) {
	var d taskData
	if err := json.Unmarshal([]byte(h["data"]), &d); err != nil {
		return nil, "", fmt.Errorf("unmarshal task: %w", err)
	}
	t := &domain.Task{
		ID:             d.ID,
		Type:           d.Type,
		DocumentID:     d.DocumentID,
		TargetID:       d.TargetID,
		Pass:           d.Pass,
		DedupKey:       d.DedupKey,
		Payload:        d.Payload,
		MaxAttempts:    d.MaxAttempts,
		CreatedAt:      d.CreatedAt,
		Status:         domain.TaskStatus(h["status"]),
		Error:          h["error"],
		ClaimedBy:      h["claimed_by"],
		LeaseExpiresAt: parseMSPtr(h["lease_ms"]),
		ScheduledFor:   parseMS(h["scheduled_ms"]),
		UpdatedAt:      parseMS(h["updated_ms"]),
		StartedAt:      parseMSPtr(h["started_ms"]),
		CompletedAt:    parseMSPtr(h["completed_ms"]),
	}
	t.Priority, _ = strconv.Atoi(h["priority"])
	t.Attempts, _ = strconv.Atoi(h["attempts"])
	return t, h["member"], nil
}

// Enqueue adds a task unless its dedup key exists
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) (bool, error) {
	n, err := q.EnqueueBatch(ctx, []*domain.Task{task})
	return n == 1, err
}

// EnqueueBatch adds multiple tasks in one MULTI block
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}
	last, err := q.client.IncrBy(ctx, q.key("seq"), int64(len(tasks))).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate sequence: %w", err)
	}
	first := last - int64(len(tasks)) + 1
	now := ms(time.Now())

	cmds := make([]*redis.Cmd, 0, len(tasks))
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, task := range tasks {
			if task.DedupKey == "" {
				task.DedupKey = domain.TaskDedupKey(task.Type, task.TargetID, task.Pass)
			}
			task.Priority = domain.ClampPriority(task.Priority)
			member := fmt.Sprintf("%013d:%012d:%s", task.CreatedAt.UnixMilli(), first+int64(i), task.ID)
			fields, err := toHash(task, member)
			if err != nil {
				return err
			}
			keys := []string{
				q.key("dedup"),
				q.taskKey(task.ID),
				q.key("ready"),
				q.key("scheduled"),
				q.docKey(task.DocumentID),
				q.key("all"),
				q.key("wake"),
			}
			args := append([]any{
				task.DedupKey,
				task.ID,
				strconv.Itoa(task.Priority),
				member,
				ms(task.ScheduledFor),
				now,
				ms(task.CreatedAt),
			}, fields...)
			cmds = append(cmds, enqueueScript.Eval(ctx, pipe, keys, args...))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue tasks: %w", err)
	}

	inserted := 0
	for _, cmd := range cmds {
		if n, _ := cmd.Int64(); n == 1 {
			inserted++
		}
	}
	return inserted, nil
}

// Dequeue claims the highest priority ready task
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*domain.Task, error) {
	now := time.Now()
	id, err := dequeueScript.Run(ctx, q.client,
		[]string{q.key("ready"), q.key("scheduled"), q.key("leases")},
		ms(now), ms(now.Add(q.opts.Lease)), workerID, q.key("task")+":",
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return q.GetTask(ctx, id)
}

// DequeueWithTimeout waits on the wake list between claim attempts. BLPOP
// only resolves whole seconds, so waits shorter than that poll instead.
func (q *Queue) DequeueWithTimeout(ctx context.Context, workerID string, timeout time.Duration) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task, err := q.Dequeue(ctx, workerID)
		if err != nil || task != nil {
			return task, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining < time.Second {
			wait := q.opts.PollInterval
			if wait > remaining {
				wait = remaining
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		err = q.client.BLPop(ctx, remaining.Truncate(time.Second), q.key("wake")).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("wait for task: %w", err)
		}
	}
}

// Ack marks a claimed task completed
func (q *Queue) Ack(ctx context.Context, taskID, workerID string) error {
	n, err := ackScript.Run(ctx, q.client,
		[]string{q.taskKey(taskID), q.key("leases")},
		taskID, workerID, ms(time.Now()),
	).Int64()
	if err != nil {
		return fmt.Errorf("ack %s: %w", taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("ack %s: %w", taskID, domain.ErrTaskNotClaimed)
	}
	return nil
}

// update applies fn to the stored task inside a WATCH transaction. fn returns
// false to leave the task unchanged.
func (q *Queue) update(ctx context.Context, taskID string, fn func(*domain.Task) (bool, error)) (*domain.Task, bool, error) {
	key := q.taskKey(taskID)
	var (
		result  *domain.Task
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(h) == 0 {
			return domain.ErrNotFound
		}
		task, member, err := fromHash(h)
		if err != nil {
			return err
		}
		ok, err := fn(task)
		if err != nil || !ok {
			result, changed = task, false
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, mutableFields(task)...)
			pipe.ZRem(ctx, q.key("leases"), task.ID)
			pipe.ZRem(ctx, q.key("ready"), member)
			pipe.ZRem(ctx, q.key("scheduled"), task.ID)
			if task.Status == domain.TaskStatusRetry {
				pipe.ZAdd(ctx, q.key("scheduled"), redis.Z{Score: float64(task.ScheduledFor.UnixMilli()), Member: task.ID})
			}
			return nil
		})
		result, changed = task, err == nil
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := q.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, changed, err
	}
	return nil, false, fmt.Errorf("update task %s: too much contention", taskID)
}

// Nack records a failed attempt
func (q *Queue) Nack(ctx context.Context, taskID, workerID, reason string) (*domain.Task, error) {
	task, _, err := q.update(ctx, taskID, func(t *domain.Task) (bool, error) {
		if t.Status != domain.TaskStatusProcessing || t.ClaimedBy != workerID {
			return false, fmt.Errorf("nack %s: %w", taskID, domain.ErrTaskNotClaimed)
		}
		t.Fail(reason, q.opts.Backoff)
		return true, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("nack %s: %w", taskID, domain.ErrTaskNotClaimed)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// PromoteRetries moves due retry tasks back to ready
func (q *Queue) PromoteRetries(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.key("ready"), q.key("scheduled"), q.key("wake")},
		ms(time.Now()), q.key("task")+":",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote retries: %w", err)
	}
	return n, nil
}

// ReclaimExpired fails every claim whose lease has run out
func (q *Queue) ReclaimExpired(ctx context.Context) ([]*domain.Task, error) {
	now := time.Now()
	ids, err := q.client.ZRangeByScore(ctx, q.key("leases"), &redis.ZRangeBy{
		Min: "-inf",
		Max: ms(now),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query expired leases: %w", err)
	}

	var reclaimed []*domain.Task
	for _, id := range ids {
		task, changed, err := q.update(ctx, id, func(t *domain.Task) (bool, error) {
			if !t.LeaseExpired(now) {
				return false, nil
			}
			t.Fail("lease expired", q.opts.Backoff)
			return true, nil
		})
		if errors.Is(err, domain.ErrNotFound) {
			q.client.ZRem(ctx, q.key("leases"), id)
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		if changed {
			reclaimed = append(reclaimed, task)
		}
	}
	return reclaimed, nil
}

// CancelDocument dead-letters the open tasks of a document
func (q *Queue) CancelDocument(ctx context.Context, documentID, reason string) (int, error) {
	ids, err := q.client.SMembers(ctx, q.docKey(documentID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list document tasks: %w", err)
	}
	cancelled := 0
	for _, id := range ids {
		_, changed, err := q.update(ctx, id, func(t *domain.Task) (bool, error) {
			if t.Status.IsTerminal() {
				return false, nil
			}
			t.MarkFailed(reason)
			t.ClaimedBy = ""
			return true, nil
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return cancelled, err
		}
		if changed {
			cancelled++
		}
	}
	return cancelled, nil
}

// StageCounts tallies one stage of a document pass by status
func (q *Queue) StageCounts(ctx context.Context, documentID string, pass int, taskType domain.TaskType) (domain.StageCounts, error) {
	var counts domain.StageCounts
	ids, err := q.client.SMembers(ctx, q.docKey(documentID)).Result()
	if err != nil {
		return counts, fmt.Errorf("list document tasks: %w", err)
	}
	fields, err := q.fields(ctx, ids, "type", "pass", "status")
	if err != nil {
		return counts, err
	}
	wantPass := strconv.Itoa(pass)
	for _, f := range fields {
		if f[0] == string(taskType) && f[1] == wantPass {
			counts.Add(domain.TaskStatus(f[2]), 1)
		}
	}
	return counts, nil
}

// fields reads the named hash fields of many tasks in one pipeline. Tasks
// that no longer exist are skipped.
func (q *Queue) fields(ctx context.Context, ids []string, names ...string) ([][]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, q.taskKey(id), names...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	out := make([][]string, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		row := make([]string, len(vals))
		missing := false
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = true
				break
			}
			row[i] = s
		}
		if !missing {
			out = append(out, row)
		}
	}
	return out, nil
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	h, err := q.client.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if len(h) == 0 {
		return nil, domain.ErrNotFound
	}
	task, _, err := fromHash(h)
	return task, err
}

func (q *Queue) loadTasks(ctx context.Context, ids []string) ([]*domain.Task, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, q.taskKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	tasks := make([]*domain.Task, 0, len(ids))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		task, _, err := fromHash(h)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ListTasks retrieves tasks matching the filter, newest first
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var ids []string
	var err error
	if filter.DocumentID != "" {
		ids, err = q.client.SMembers(ctx, q.docKey(filter.DocumentID)).Result()
	} else {
		ids, err = q.client.ZRevRange(ctx, q.key("all"), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Task{}, nil
	}

	all, err := q.loadTasks(ctx, ids)
	if err != nil {
		return nil, err
	}
	tasks := make([]*domain.Task, 0, len(all))
	for _, t := range all {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return []*domain.Task{}, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

// PurgeTasks removes completed tasks last updated before the cutoff whose
// document pass has no live tasks left. The dedup key is released with the
// task.
func (q *Queue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	ids, err := q.client.ZRangeByScore(ctx, q.key("all"), &redis.ZRangeBy{Min: "-inf", Max: ms(cutoff)}).Result()
	if err != nil {
		return 0, fmt.Errorf("query old tasks: %w", err)
	}
	tasks, err := q.loadTasks(ctx, ids)
	if err != nil {
		return 0, err
	}

	live := make(map[string]map[string]bool)
	for _, t := range tasks {
		if t.Status != domain.TaskStatusCompleted || live[t.DocumentID] != nil {
			continue
		}
		passes, err := q.livePasses(ctx, t.DocumentID)
		if err != nil {
			return 0, err
		}
		live[t.DocumentID] = passes
	}

	purged := 0
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tasks {
			if t.Status != domain.TaskStatusCompleted || !t.UpdatedAt.Before(cutoff) {
				continue
			}
			if live[t.DocumentID][strconv.Itoa(t.Pass)] {
				continue
			}
			pipe.Del(ctx, q.taskKey(t.ID))
			pipe.HDel(ctx, q.key("dedup"), t.DedupKey)
			pipe.SRem(ctx, q.docKey(t.DocumentID), t.ID)
			pipe.ZRem(ctx, q.key("all"), t.ID)
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return purged, nil
}

// livePasses returns the passes of a document that still have pending,
// processing or retry tasks.
func (q *Queue) livePasses(ctx context.Context, documentID string) (map[string]bool, error) {
	ids, err := q.client.SMembers(ctx, q.docKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list document tasks: %w", err)
	}
	fields, err := q.fields(ctx, ids, "pass", "status")
	if err != nil {
		return nil, err
	}
	passes := make(map[string]bool)
	for _, f := range fields {
		switch domain.TaskStatus(f[1]) {
		case domain.TaskStatusPending, domain.TaskStatusProcessing, domain.TaskStatusRetry:
			passes[f[0]] = true
		}
	}
	return passes, nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	ids, err := q.client.ZRange(ctx, q.key("all"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	fields, err := q.fields(ctx, ids, "status", "created_ms")
	if err != nil {
		return nil, err
	}

	stats := &driven.QueueStats{}
	var oldest time.Time
	for _, f := range fields {
		switch domain.TaskStatus(f[0]) {
		case domain.TaskStatusPending:
			stats.PendingCount++
			if created := parseMS(f[1]); oldest.IsZero() || created.Before(oldest) {
				oldest = created
			}
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusRetry:
			stats.RetryCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = int64(time.Since(oldest).Seconds())
	}
	return stats, nil
}

// Ping checks Redis connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared
func (q *Queue) Close() error {
	return nil
}
