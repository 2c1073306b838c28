package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakeland/bronze-core/internal/checkpoint"
	"github.com/lakeland/bronze-core/internal/config"
	"github.com/lakeland/bronze-core/internal/extract"
	"github.com/lakeland/bronze-core/internal/watermark"
	"github.com/lakeland/bronze-core/pkg/storage"
)

// runBatch assembles stores, backends and jobs from the config and runs
// them through the coordinator.
func runBatch(ctx context.Context, cfg *config.Config, runDate, jobName string) error {
	logger := slog.Default()

	jobConfigs, err := selectJobs(cfg, jobName)
	if err != nil {
		return err
	}

	checkpoints, watermarks, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	jobs := make([]*extract.Job, 0, len(jobConfigs))
	for _, jc := range jobConfigs {
		run := config.NewRunContext(jc, runDate)
		extractor, err := extract.NewExtractor(jc.Source)
		if err != nil {
			return fmt.Errorf("job %s: %w", jc.Name, err)
		}
		var backend storage.Backend
		if jc.Storage.Enabled {
			backend, err = buildBackend(ctx, jc)
			if err != nil {
				return fmt.Errorf("job %s: %w", jc.Name, err)
			}
		}
		jobs = append(jobs, &extract.Job{
			Run:         run,
			Extractor:   extractor,
			Checkpoints: checkpoints,
			Watermarks:  watermarks,
			Backend:     backend,
			SchemaDir:   filepath.Join(cfg.StateDir, "schemas"),
			Reporters:   []extract.Reporter{&extract.LogReporter{Logger: logger}},
			Logger:      logger,
		})
	}

	coordinator := &extract.Coordinator{MaxWorkers: cfg.MaxWorkers, Logger: logger}
	outcomes, err := coordinator.RunAll(ctx, jobs)
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		switch {
		case o.Err != nil:
			logger.Error("job failed", "partition", o.Result.Partition, "error", o.Err)
		case o.Result.Skipped:
			logger.Info("job skipped", "partition", o.Result.Partition)
		default:
			logger.Info("job succeeded", "partition", o.Result.Partition, "records", o.Result.RecordCount, "chunks", o.Result.ChunkCount)
		}
	}
	return err
}

// buildStores picks the postgres or local state backing. The returned
// cleanup closes whatever was opened.
func buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (checkpoint.Store, watermark.Store, func(), error) {
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		checkpoints, err := checkpoint.NewPostgresStore(ctx, pool, 0)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		watermarks, err := watermark.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return checkpoints, watermarks, pool.Close, nil
	}

	var opts []checkpoint.LocalStoreOption
	if cfg.LockTimeout > 0 {
		opts = append(opts, checkpoint.WithLockTimeout(cfg.LockTimeout))
	}
	checkpoints, err := checkpoint.NewLocalStore(filepath.Join(cfg.StateDir, "checkpoints"), logger, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	watermarks, err := watermark.NewLocalStore(cfg.WatermarkPath)
	if err != nil {
		return nil, nil, nil, err
	}
	return checkpoints, watermarks, func() {}, nil
}

// buildBackend constructs the job's upload target wrapped in the
// resilience decorator.
func buildBackend(ctx context.Context, jc config.JobConfig) (storage.Backend, error) {
	var inner storage.Backend
	switch jc.Storage.Backend {
	case "s3":
		s3, err := storage.NewS3(jc.Storage.S3)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		inner = s3
	case "local", "":
		local, err := storage.NewLocal(jc.Storage.LocalRoot)
		if err != nil {
			return nil, err
		}
		inner = local
	default:
		return nil, fmt.Errorf("unknown storage backend %q", jc.Storage.Backend)
	}
	return storage.NewResilient(inner, jc.Storage.Resilience, slog.Default()), nil
}
