package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

const maintenanceLockName = "pipeline-maintenance"

// Maintenance runs the periodic queue sweep: it promotes retries whose
// backoff elapsed, reclaims abandoned claims, restarts stalled documents and
// purges old completed tasks.
//
// For multi-worker deployments, configure a DistributedLock so only one
// instance sweeps at a time.
type Maintenance struct {
	taskQueue driven.TaskQueue
	documents driven.DocumentStore
	pipeline  *PipelineService
	lock      driven.DistributedLock
	logger    *slog.Logger

	// Internal state
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	// Lock configuration
	lockTTL      time.Duration
	lockRequired bool

	retention  time.Duration
	stallAfter time.Duration
	batchSize  int
}

// MaintenanceConfig holds configuration for the maintenance sweep.
type MaintenanceConfig struct {
	TaskQueue    driven.TaskQueue
	Documents    driven.DocumentStore
	Pipeline     *PipelineService
	Lock         driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Logger       *slog.Logger
	Interval     time.Duration // How often to sweep (default: 30s)
	LockTTL      time.Duration // TTL for the distributed lock (default: 60s)
	LockRequired bool          // If true, skip the sweep when the lock cannot be acquired (default: true)
	Retention    time.Duration // Age after which completed tasks are purged (default: 7 days)
	StallAfter   time.Duration // Idle time before an unfinished document is advanced (default: 1m)
	BatchSize    int           // Documents examined per status per sweep (default: 100)
}

// MaintenanceReport summarises one sweep.
type MaintenanceReport struct {
	Promoted     int `json:"promoted"`
	Reclaimed    int `json:"reclaimed"`
	DeadLettered int `json:"dead_lettered"`
	Advanced     int `json:"advanced"`
	Purged       int `json:"purged"`
}

// NewMaintenance creates the maintenance sweep.
func NewMaintenance(cfg MaintenanceConfig) *Maintenance {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 60 * time.Second // Default: 2x interval
	}

	// A configured lock is always required; skipping it would let two
	// instances reclaim the same leases.
	lockRequired := cfg.LockRequired || cfg.Lock != nil

	retention := cfg.Retention
	if retention == 0 {
		retention = 7 * 24 * time.Hour
	}
	stallAfter := cfg.StallAfter
	if stallAfter == 0 {
		stallAfter = time.Minute
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Maintenance{
		taskQueue:    cfg.TaskQueue,
		documents:    cfg.Documents,
		pipeline:     cfg.Pipeline,
		lock:         cfg.Lock,
		logger:       logger,
		interval:     interval,
		lockTTL:      lockTTL,
		lockRequired: lockRequired,
		retention:    retention,
		stallAfter:   stallAfter,
		batchSize:    batchSize,
	}
}

// Start begins the maintenance loop.
// It runs until Stop is called or context is cancelled.
func (m *Maintenance) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("maintenance starting", "interval", m.interval)

	go m.run(ctx)

	return nil
}

// Stop gracefully stops the maintenance loop.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.mu.Unlock()

	// Wait for the loop to finish
	<-m.doneCh

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("maintenance stopped")
}

func (m *Maintenance) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Run immediately on start
	m.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("maintenance context cancelled")
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep runs one cycle under the distributed lock, if one is configured.
func (m *Maintenance) sweep(ctx context.Context) {
	if m.lock != nil {
		acquired, err := m.lock.Acquire(ctx, maintenanceLockName, m.lockTTL)
		if err != nil {
			m.logger.Warn("failed to acquire maintenance lock", "error", err)
			if m.lockRequired {
				return // Skip this cycle
			}
		} else if !acquired {
			m.logger.Debug("maintenance lock held by another instance, skipping cycle")
			return
		} else {
			defer func() {
				if err := m.lock.Release(ctx, maintenanceLockName); err != nil {
					m.logger.Warn("failed to release maintenance lock", "error", err)
				}
			}()
		}
	}

	report := m.RunOnce(ctx)
	if report.Promoted+report.Reclaimed+report.Advanced+report.Purged > 0 {
		m.logger.Info("maintenance sweep",
			"promoted", report.Promoted,
			"reclaimed", report.Reclaimed,
			"dead_lettered", report.DeadLettered,
			"advanced", report.Advanced,
			"purged", report.Purged,
		)
	}
}

// RunOnce performs a single sweep without taking the lock. Each step logs
// and continues on error so one failing backend call does not stall the rest.
func (m *Maintenance) RunOnce(ctx context.Context) MaintenanceReport {
	var report MaintenanceReport

	promoted, err := m.taskQueue.PromoteRetries(ctx)
	if err != nil {
		m.logger.Error("failed to promote retries", "error", err)
	}
	report.Promoted = promoted

	reclaimed, err := m.taskQueue.ReclaimExpired(ctx)
	if err != nil {
		m.logger.Error("failed to reclaim expired leases", "error", err)
	}
	report.Reclaimed = len(reclaimed)
	for _, task := range reclaimed {
		if task.Status != domain.TaskStatusFailed {
			continue
		}
		report.DeadLettered++
		if err := m.pipeline.TaskFailed(ctx, task); err != nil {
			m.logger.Error("failed to apply dead-lettered task",
				"task_id", task.ID,
				"document_id", task.DocumentID,
				"error", err,
			)
		}
	}

	report.Advanced = m.advanceStalled(ctx)

	purged, err := m.taskQueue.PurgeTasks(ctx, m.retention)
	if err != nil {
		m.logger.Error("failed to purge tasks", "error", err)
	}
	report.Purged = purged

	return report
}

// advanceStalled re-runs stage sequencing for unfinished documents that have
// not changed for a while. This heals documents whose next stage was never
// enqueued, for example after a crash between an ack and the enqueue.
func (m *Maintenance) advanceStalled(ctx context.Context) int {
	cutoff := time.Now().Add(-m.stallAfter)
	advanced := 0
	for _, status := range []domain.DocumentStatus{domain.DocumentStatusPending, domain.DocumentStatusProcessing} {
		docs, err := m.documents.List(ctx, driven.DocumentFilter{
			Status:        status,
			UpdatedBefore: cutoff,
			Limit:         m.batchSize,
		})
		if err != nil {
			m.logger.Error("failed to list documents", "status", status, "error", err)
			continue
		}
		for _, doc := range docs {
			if err := m.pipeline.Advance(ctx, doc.ID, doc.Pass); err != nil {
				m.logger.Warn("failed to advance document", "document_id", doc.ID, "error", err)
				continue
			}
			advanced++
		}
	}
	return advanced
}
