package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
)

// Worker claims pipeline tasks from the queue and hands them to the
// processor. Each goroutine claims under its own worker ID so that acks and
// nacks from a goroutine whose lease was reclaimed are rejected.
type Worker struct {
	taskQueue   driven.TaskQueue
	processor   driving.TaskProcessor
	maintenance *services.Maintenance
	logger      *slog.Logger

	// Configuration
	name           string
	concurrency    int
	dequeueTimeout time.Duration
	errorBackoff   time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue      driven.TaskQueue
	Processor      driving.TaskProcessor
	Maintenance    *services.Maintenance // Optional: started and stopped with the worker
	Logger         *slog.Logger
	Name           string        // Prefix of the worker IDs (default: hostname-pid)
	Concurrency    int           // Number of concurrent task processors
	DequeueTimeout time.Duration // How long to wait for a task before checking again
	ErrorBackoff   time.Duration // Pause after a queue error (default: 1s)
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}

	name := cfg.Name
	if name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		name = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		processor:      cfg.Processor,
		maintenance:    cfg.Maintenance,
		logger:         logger,
		name:           name,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		errorBackoff:   errorBackoff,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"name", w.name,
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.maintenance != nil {
		if err := w.maintenance.Start(ctx); err != nil {
			w.logger.Error("failed to start maintenance", "error", err)
		}
	}

	// Loops stop on the stop channel or the parent context; a loop never
	// returns an error, so the group only serves as the join point.
	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.stopCh:
		case <-loopCtx.Done():
		}
		cancel()
	}()

	g, gctx := errgroup.WithContext(loopCtx)
	for i := 0; i < w.concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", w.name, i)
		g.Go(func() error {
			w.processLoop(gctx, workerID)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		cancel()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight tasks finish before it returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.maintenance != nil {
		w.maintenance.Stop()
	}

	// Wait for workers to finish
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID string) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker loop stopping")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, workerID, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.errorBackoff): // Back off on error
			}
			continue
		}

		if task == nil {
			continue
		}

		// A claimed task is finished even when the worker is stopping; an
		// unacknowledged claim would otherwise wait for its lease to expire.
		w.processTask(context.WithoutCancel(ctx), workerID, task, logger)
	}
}

// processTask runs a single claimed task and settles it.
func (w *Worker) processTask(ctx context.Context, workerID string, task *domain.Task, logger *slog.Logger) {
	logger = logger.With(
		"task_id", task.ID,
		"task_type", task.Type,
		"document_id", task.DocumentID,
		"attempt", task.Attempts,
	)
	logger.Debug("processing task")

	startTime := time.Now()
	err := w.run(ctx, task)
	duration := time.Since(startTime)

	if err != nil {
		logger.Warn("task attempt failed", "duration", duration, "error", err)

		failed, nackErr := w.taskQueue.Nack(ctx, task.ID, workerID, err.Error())
		if nackErr != nil {
			if errors.Is(nackErr, domain.ErrTaskNotClaimed) {
				logger.Warn("claim lost before nack, result discarded")
				return
			}
			logger.Error("failed to nack task", "nack_error", nackErr)
			return
		}
		if failed.Status == domain.TaskStatusFailed {
			logger.Error("task dead-lettered", "attempts", failed.Attempts, "error", failed.Error)
			if hookErr := w.processor.TaskFailed(ctx, failed); hookErr != nil {
				logger.Error("failed to apply dead-lettered task", "error", hookErr)
			}
		}
		return
	}

	if ackErr := w.taskQueue.Ack(ctx, task.ID, workerID); ackErr != nil {
		if errors.Is(ackErr, domain.ErrTaskNotClaimed) {
			logger.Warn("claim lost before ack, result discarded")
			return
		}
		logger.Error("failed to ack task", "ack_error", ackErr)
		return
	}

	logger.Info("task completed", "duration", duration)

	if hookErr := w.processor.TaskCompleted(ctx, task); hookErr != nil {
		// Maintenance re-advances documents whose next stage was not enqueued.
		logger.Error("failed to advance pipeline", "error", hookErr)
	}
}

// run calls the processor, turning a panic into an ordinary task failure.
func (w *Worker) run(ctx context.Context, task *domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", task.Type, r)
		}
	}()
	return w.processor.Process(ctx, task)
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	// Check queue health
	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
