package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nucleus/fluxion/internal/archive"
	"github.com/nucleus/fluxion/internal/config"
	"github.com/nucleus/fluxion/internal/connector"
	"github.com/nucleus/fluxion/internal/database"
	"github.com/nucleus/fluxion/internal/logging"
	"github.com/nucleus/fluxion/internal/metrics"
	"github.com/nucleus/fluxion/internal/normalize"
	"github.com/nucleus/fluxion/internal/orchestration"
	"github.com/nucleus/fluxion/internal/reconcile"
	"github.com/nucleus/fluxion/internal/tracker"
	"github.com/nucleus/fluxion/internal/warehouse"
)

// warehouseStore is a warehouse that can also count rows per day.
type warehouseStore interface {
	warehouse.Store
	warehouse.Counter
}

// app wires every component for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	sources *config.Sources

	db        *database.Client
	pool      *connector.Pool
	queue     *orchestration.Queue
	tracker   *tracker.Tracker
	orch      *orchestration.Orchestrator
	reconcile *reconcile.Service

	closers []func()
}

type appOptions struct {
	// dryRun keeps the run log, gaps and warehouse in memory.
	dryRun      bool
	chunkWindow time.Duration
}

func newApp(ctx context.Context, cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg := config.Load()
	if v, _ := cmd.Flags().GetString("sources"); v != "" {
		cfg.SourcesFile = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, opts appOptions) error {
	cfg := a.cfg

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return err
	}
	a.sources = sources

	var (
		runs  tracker.Store
		gaps  reconcile.GapStore
		store warehouseStore
	)
	if opts.dryRun {
		a.logger.Info("dry run: run log, gaps and warehouse are in memory")
		runs = tracker.NewMemoryStore()
		gaps = reconcile.NewMemoryGapStore()
		store = warehouse.NewMemoryStore()
	} else {
		db, err := database.NewClient(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })
		runs = tracker.NewPostgresStore(db)
		gaps = reconcile.NewPostgresGapStore(db)

		ws, err := warehouse.NewPostgresStore(ctx, cfg.WarehouseDatabaseURL, int32(cfg.WarehouseMaxConns))
		if err != nil {
			return fmt.Errorf("failed to connect to warehouse: %w", err)
		}
		a.closers = append(a.closers, ws.Close)
		store = ws
	}

	a.pool = connector.NewPool(nil, config.NewCredentialResolver())
	a.closers = append(a.closers, func() {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("failed to close connectors", zap.Error(err))
		}
	})

	a.queue = orchestration.NewQueue()
	a.tracker = tracker.New(runs, a.logger.Named("tracker"))
	a.reconcile = reconcile.NewService(a.pool, store, gaps, a.queue, reconcile.Options{
		Days:    cfg.ReconcileDays,
		Workers: cfg.Workers,
		Logger:  a.logger.Named("reconcile"),
		Metrics: a.metrics,
	})

	orchOpts := orchestration.Options{
		Retry: orchestration.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Base:       cfg.BackoffBase,
			Cap:        cfg.BackoffCap,
		},
		Workers:     cfg.Workers,
		ChunkWindow: opts.chunkWindow,
		Rechecker:   a.reconcile,
		Logger:      a.logger.Named("orchestrator"),
		Metrics:     a.metrics,
	}
	if cfg.ArchiveEnabled && !opts.dryRun {
		archiver, err := a.archiver(ctx)
		if err != nil {
			return err
		}
		orchOpts.Archiver = archiver
	}

	loader := warehouse.NewLoader(store, cfg.ErrorRateThreshold)
	a.orch = orchestration.New(a.pool, normalize.New(sources.Shifts), loader, a.tracker, orchOpts)
	return nil
}

func (a *app) archiver(ctx context.Context) (*archive.Archiver, error) {
	cfg := a.cfg
	var store archive.ObjectStore
	switch {
	case cfg.MinioEndpoint != "":
		s3, err := archive.NewS3Store(archive.S3Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archive client: %w", err)
		}
		store = s3
	case cfg.ArchiveRoot != "":
		store = archive.NewLocalStore(cfg.ArchiveRoot)
	default:
		return nil, fmt.Errorf("ARCHIVE_ENABLED requires MINIO_ENDPOINT or ARCHIVE_ROOT")
	}
	if err := store.EnsureBucket(ctx, cfg.ArchiveBucket); err != nil {
		return nil, fmt.Errorf("failed to prepare archive bucket: %w", err)
	}
	a.logger.Info("batch archive enabled", zap.String("bucket", cfg.ArchiveBucket))
	return archive.New(store, cfg.ArchiveBucket), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
