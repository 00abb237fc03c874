package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/blob"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driving/cli"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-ingest/internal/chunker"
	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
	"github.com/custodia-labs/sercha-ingest/internal/extractor"
	"github.com/custodia-labs/sercha-ingest/internal/normalisers"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors"
	"github.com/custodia-labs/sercha-ingest/internal/runtime"
	"github.com/custodia-labs/sercha-ingest/internal/worker"
)

// closers releases resources in reverse order of acquisition
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// loadApp connects every backend and wires the services.
func loadApp(ctx context.Context) (_ *cli.App, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	var cleanup closers
	defer func() {
		if err != nil {
			cleanup.close()
		}
	}()

	// ===== PostgreSQL =====
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	cleanup.add(func() { _ = db.Close() })

	// ===== Redis (optional) =====
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		cleanup.add(func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Debug("redis connected")
	}

	// ===== Task queue and lock =====
	queueOpts := driven.QueueOptions{
		Lease: cfg.Queue.Lease,
		Backoff: domain.BackoffPolicy{
			Initial:    cfg.Queue.BackoffInitial,
			Multiplier: 2,
			Max:        cfg.Queue.BackoffMax,
		},
		PollInterval: cfg.Queue.PollInterval,
	}

	var taskQueue driven.TaskQueue
	var lock driven.DistributedLock
	switch cfg.Queue.Backend {
	case config.QueueRedis:
		if redisClient == nil {
			return nil, errors.New("redis queue requires REDIS_URL")
		}
		q, err := redisqueue.NewQueue(redisClient, queueOpts, logger)
		if err != nil {
			return nil, fmt.Errorf("create redis queue: %w", err)
		}
		taskQueue = q
	default:
		q, err := postgresqueue.NewQueue(db.DB, db.URL(), queueOpts, logger)
		if err != nil {
			return nil, fmt.Errorf("create postgres queue: %w", err)
		}
		taskQueue = q
	}
	cleanup.add(func() { _ = taskQueue.Close() })

	if redisClient != nil {
		lock = redisadapter.NewLock(redisClient)
	} else {
		lock = postgres.NewLeaseLock(db)
	}
	logger.Info("backends selected", "queue", cfg.Queue.Backend, "redis", redisClient != nil, "blob", cfg.Blob.Backend)

	// ===== Blob storage =====
	blobs, err := openBlobs(ctx, cfg.Blob, &cleanup)
	if err != nil {
		return nil, err
	}

	// ===== Embeddings =====
	runtimeServices := runtime.NewServices(domain.NewRuntimeConfig(cfg.Queue.Backend))
	embedder, err := ai.NewEmbeddingService(ai.Config{
		Provider:          cfg.Embedding.Provider,
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		BaseURL:           cfg.Embedding.BaseURL,
		Dimensions:        cfg.Embedding.Dimensions,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
		BatchSize:         cfg.Embedding.BatchSize,
		Timeout:           cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding service: %w", err)
	}
	if embedder != nil {
		// An unreachable provider stays configured: embed tasks retry until it answers
		if err := embedder.HealthCheck(ctx); err != nil {
			logger.Warn("embedding provider unreachable at startup", "provider", cfg.Embedding.Provider, "error", err)
		}
		runtimeServices.SetEmbeddingService(embedder)
	}
	cleanup.add(func() { _ = runtimeServices.Close() })

	// ===== Extraction rules =====
	catalogData, err := cfg.ReadCatalog()
	if err != nil {
		return nil, err
	}
	catalog, err := extractor.LoadCatalog(catalogData)
	if err != nil {
		return nil, err
	}
	table, err := chunker.ParseTable(catalogData)
	if err != nil {
		return nil, err
	}

	// ===== Stores and services =====
	documentStore := postgres.NewDocumentStore(db)
	normaliserRegistry := normalisers.DefaultRegistry()

	pipeline := services.NewPipelineService(services.PipelineConfig{
		Documents:   documentStore,
		Chunks:      postgres.NewChunkStore(db),
		Embeddings:  postgres.NewEmbeddingStore(db),
		ErrorCodes:  postgres.NewErrorCodeStore(db),
		Blobs:       blobs,
		Queue:       taskQueue,
		Normalisers: normaliserRegistry,
		Text:        postprocessors.DefaultPipeline(),
		Chunker:     chunker.New(nil, table),
		Catalog:     catalog,
		Services:    runtimeServices,
		Logger:      logger,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})

	admission := services.NewAdmissionService(services.AdmissionConfig{
		Documents:   documentStore,
		Blobs:       blobs,
		Queue:       taskQueue,
		Normalisers: normaliserRegistry,
		Pipeline:    pipeline,
		MaxBytes:    cfg.MaxUploadBytes,
		Logger:      logger,
	})

	searchCfg := services.SearchConfig{
		Candidates:     postgres.NewCandidateStore(db),
		ErrorCodes:     postgres.NewErrorCodeStore(db),
		Services:       runtimeServices,
		Logger:         logger,
		CacheTTL:       cfg.Search.CacheTTL,
		CandidateLimit: cfg.Search.CandidateLimit,
	}
	if redisClient != nil {
		searchCfg.Cache = redisadapter.NewEmbeddingCache(redisClient)
	}
	search := services.NewSearchService(searchCfg)

	tasks := services.NewTaskService(taskQueue)

	maintenance := services.NewMaintenance(services.MaintenanceConfig{
		TaskQueue:    taskQueue,
		Documents:    documentStore,
		Pipeline:     pipeline,
		Lock:         lock,
		Logger:       logger,
		Interval:     cfg.Worker.MaintenanceInterval,
		LockRequired: true,
		Retention:    cfg.Queue.Retention,
		StallAfter:   cfg.Worker.StallAfter,
	})

	app := &cli.App{
		Admission:   admission,
		Documents:   pipeline,
		Search:      search,
		Tasks:       tasks,
		Maintenance: maintenance,
		Supports: func(mimeType string) bool {
			return normaliserRegistry.Get(mimeType) != nil
		},
		Migrate: db.Migrate,
		Close:   cleanup.close,
	}

	app.ServeAPI = func(ctx context.Context) error {
		server := http.NewServer(http.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			Version:        version,
			APIKeys:        cfg.Server.APIKeys,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxUploadBytes: cfg.MaxUploadBytes,
			Logger:         logger,
		}, http.Services{
			Admission: admission,
			Documents: pipeline,
			Search:    search,
			Tasks:     tasks,
		}, map[string]http.Pinger{
			"database": db,
			"queue":    taskQueue,
			"blobs":    blobs,
		})
		return server.Start(ctx)
	}

	app.RunWorker = func(ctx context.Context) error {
		wcfg := worker.WorkerConfig{
			TaskQueue:      taskQueue,
			Processor:      pipeline,
			Logger:         logger,
			Concurrency:    cfg.Worker.Concurrency,
			DequeueTimeout: cfg.Worker.DequeueTimeout,
		}
		if cfg.Worker.MaintenanceEnabled {
			wcfg.Maintenance = maintenance
		}
		w := worker.NewWorker(wcfg)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		<-ctx.Done()
		w.Stop()
		return nil
	}

	return app, nil
}

// openBlobs builds the blob router. Locators written by a previous backend
// stay readable: the filesystem store is registered for reads whenever its
// root exists.
func openBlobs(ctx context.Context, cfg config.BlobConfig, cleanup *closers) (*blob.Router, error) {
	switch cfg.Backend {
	case config.BlobGCS:
		gcs, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          cfg.GCSBucket,
			Prefix:          cfg.GCSPrefix,
			CredentialsFile: cfg.GCSCredentialsFile,
			Endpoint:        cfg.GCSEndpoint,
			Timeout:         time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("open gcs bucket: %w", err)
		}
		cleanup.add(func() { _ = gcs.Close() })
		router := blob.NewRouter(gcs, blob.GCSScheme)
		if cfg.Root != "" {
			if _, err := os.Stat(cfg.Root); err == nil {
				files, err := blob.NewFileStore(cfg.Root)
				if err != nil {
					return nil, err
				}
				router.Register(blob.FileScheme, files)
			}
		}
		return router, nil
	default:
		files, err := blob.NewFileStore(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("open blob root: %w", err)
		}
		return blob.NewRouter(files, blob.FileScheme), nil
	}
}
