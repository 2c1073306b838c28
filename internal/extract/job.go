package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lakeland/bronze-core/internal/checkpoint"
	"github.com/lakeland/bronze-core/internal/chunk"
	"github.com/lakeland/bronze-core/internal/config"
	"github.com/lakeland/bronze-core/internal/integrity"
	"github.com/lakeland/bronze-core/internal/record"
	"github.com/lakeland/bronze-core/internal/schema"
	"github.com/lakeland/bronze-core/internal/watermark"
	"github.com/lakeland/bronze-core/pkg/storage"
)

// ErrDuplicateRun means the partition already holds verified output from
// a completed run. The existing artifacts are left untouched.
var ErrDuplicateRun = errors.New("partition already has verified output")

// Result is the outcome of one job run.
type Result struct {
	RunID       string
	Partition   string
	Skipped     bool
	RecordCount int64
	ChunkCount  int
	Files       []string
	Verify      *integrity.VerifyResult
}

// Job drives one source through the full extraction pipeline: lock,
// fetch, schema check, chunked write, checksum verify, watermark
// advance, release. Execute is safe to call exactly once per Job.
type Job struct {
	Run         *config.RunContext
	Extractor   Extractor
	Checkpoints checkpoint.Store
	Watermarks  watermark.Store
	Backend     storage.Backend
	SchemaDir   string
	Reporters   []Reporter
	Logger      *slog.Logger

	// beforeVerify, when set, runs between the manifest write and the
	// verification pass. Tests use it to corrupt files in that window.
	beforeVerify func()
}

// Execute runs the job to completion. A partition held by another live
// run returns a skipped Result with a nil error; every other failure
// releases the checkpoint as FAILED and returns the error.
func (j *Job) Execute(ctx context.Context) (res *Result, err error) {
	run := j.Run
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source", run.Job.Source.Key(), "runId", run.RunID, "partition", run.PartitionPath)
	started := time.Now()

	cp, err := j.Checkpoints.AcquireLock(ctx, checkpoint.AcquireRequest{
		PartitionPath:   run.PartitionPath,
		SourceKey:       run.Job.Source.Key(),
		RunID:           run.RunID,
		RunDate:         run.RunDate,
		WatermarkColumn: run.Job.Source.WatermarkColumn,
		WatermarkType:   run.Job.Source.WatermarkType,
	})
	if err != nil {
		var conflict *checkpoint.ConflictError
		if errors.As(err, &conflict) {
			logger.Info("partition held by another run, skipping", "holder", conflict.HolderRunID)
			return &Result{RunID: run.RunID, Partition: run.PartitionPath, Skipped: true}, nil
		}
		return nil, fmt.Errorf("acquire checkpoint: %w", err)
	}
	logger.Info("checkpoint acquired", "checkpointId", cp.CheckpointID)

	res = &Result{RunID: run.RunID, Partition: run.PartitionPath}
	var watermarkValue string

	// The release guard runs on every exit, including panics, so a
	// crashed run leaves a terminal FAILED checkpoint instead of a
	// stale ACQUIRED lock.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		rel := checkpoint.Release{
			PartitionPath:  run.PartitionPath,
			RunID:          run.RunID,
			Success:        err == nil,
			RecordCount:    res.RecordCount,
			ChunkCount:     res.ChunkCount,
			ArtifactCount:  len(res.Files),
			WatermarkValue: watermarkValue,
		}
		if err != nil {
			rel.ErrorMessage = err.Error()
			// A duplicate run never touches the prior run's artifacts.
			if run.Job.CleanupEnabled() && !errors.Is(err, ErrDuplicateRun) {
				j.cleanupArtifacts(logger, res.Files)
			}
		}
		if relErr := j.Checkpoints.ReleaseLock(context.Background(), rel); relErr != nil {
			logger.Error("checkpoint release failed", "error", relErr)
		}
	}()

	if err = j.gatePriorOutput(logger); err != nil {
		return res, err
	}
	if err = os.MkdirAll(run.OutputDir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}

	wmKey := watermark.Key{
		System: run.Job.Source.System,
		Table:  run.Job.Source.Table,
		Column: run.Job.Source.WatermarkColumn,
	}
	var since string
	if j.usesWatermark() {
		wm, wmErr := j.Watermarks.Get(ctx, wmKey, run.Job.Source.WatermarkType)
		if wmErr != nil {
			err = fmt.Errorf("load watermark: %w", wmErr)
			return res, err
		}
		since = wm.Value
	}

	extractStart := time.Now()
	records, cursor, fetchErr := j.Extractor.Fetch(ctx, run, since)
	if fetchErr != nil {
		err = fmt.Errorf("fetch records: %w", fetchErr)
		return res, err
	}
	extractMs := time.Since(extractStart).Milliseconds()
	res.RecordCount = int64(len(records))
	logger.Info("records fetched", "count", len(records), "extractMs", extractMs)

	if len(records) == 0 {
		// No new data is a successful no-op run. The checkpoint
		// records it so reruns the same day are blocked.
		md := &RunMetadata{
			Timestamp:   nowUTC(),
			RunID:       run.RunID,
			LoadPattern: run.Job.LoadPattern,
			Performance: map[string]any{"extract_ms": extractMs},
			Quality:     map[string]any{},
		}
		if err = WriteMetadata(run.OutputDir, md); err != nil {
			return res, err
		}
		return res, nil
	}

	snap := schema.Infer(records, run.Job.SchemaSampleSize)
	prev, loadErr := schema.Load(j.schemaDir())
	if loadErr != nil {
		err = fmt.Errorf("load prior schema: %w", loadErr)
		return res, err
	}
	checker := schema.NewChecker(run.Job.SchemaPolicy)
	if err = checker.CheckCompatibility(prev, snap); err != nil {
		return res, err
	}
	if err = os.MkdirAll(j.schemaDir(), 0o755); err != nil {
		return res, fmt.Errorf("create schema dir: %w", err)
	}
	if err = snap.Save(j.schemaDir()); err != nil {
		return res, err
	}

	chunks := chunk.Split(records, chunk.Limits{
		MaxRows:  run.Job.Chunking.MaxRows,
		MaxBytes: run.Job.Chunking.MaxSizeBytes,
	})
	writer := &ChunkWriter{
		OutputDir:    run.OutputDir,
		FilePrefix:   run.Job.Output.FilePrefix,
		WriteCSV:     run.Job.Output.WriteCSV,
		WriteParquet: run.Job.Output.WriteParquet,
		Compression:  run.Job.Output.Compression,
		Schema:       snap,
		Backend:      j.Backend,
		RemoteDir:    remoteDir(run),
	}
	processor := &ChunkProcessor{
		Writer:  writer,
		Workers: run.Job.ParallelWorkers,
		Logger:  logger,
	}
	writeStart := time.Now()
	files, procErr := processor.Process(ctx, chunks)
	if procErr != nil {
		res.Files = files
		err = fmt.Errorf("write chunks: %w", procErr)
		return res, err
	}
	writeMs := time.Since(writeStart).Milliseconds()
	res.Files = files
	res.ChunkCount = len(chunks)

	manifest, mErr := integrity.WriteManifest(run.OutputDir, files, run.Job.LoadPattern)
	if mErr != nil {
		err = fmt.Errorf("write checksum manifest: %w", mErr)
		return res, err
	}
	if j.beforeVerify != nil {
		j.beforeVerify()
	}
	verifyStart := time.Now()
	verify := integrity.VerifyManifest(run.OutputDir, run.Job.LoadPattern)
	res.Verify = verify
	if !verify.Valid {
		bad := append(append([]string{}, verify.MismatchedFiles...), verify.MissingFiles...)
		if qr, qErr := integrity.Quarantine(run.OutputDir, bad, "checksum verification failed", run.Job.Quarantine); qErr != nil {
			logger.Error("quarantine failed", "error", qErr)
		} else if qr.Count > 0 {
			logger.Warn("files quarantined", "count", qr.Count, "path", qr.QuarantinePath)
		}
		err = fmt.Errorf("integrity check failed: %d mismatched, %d missing",
			len(verify.MismatchedFiles), len(verify.MissingFiles))
		return res, err
	}
	verifyMs := time.Since(verifyStart).Milliseconds()

	watermarkValue = cursor
	if watermarkValue == "" && j.usesWatermark() {
		watermarkValue = watermark.MaxObserved(asMaps(records), run.Job.Source.WatermarkColumn, run.Job.Source.WatermarkType)
	}

	elapsed := time.Since(started)
	md := &RunMetadata{
		Timestamp:   nowUTC(),
		RunID:       run.RunID,
		LoadPattern: run.Job.LoadPattern,
		RecordCount: res.RecordCount,
		ChunkCount:  res.ChunkCount,
		Cursor:      watermarkValue,
		Performance: map[string]any{
			"extract_ms":      extractMs,
			"write_ms":        writeMs,
			"verify_ms":       verifyMs,
			"records_per_sec": recordsPerSec(res.RecordCount, elapsed),
		},
		Quality:     qualityMetrics(records, snap),
		SchemaCheck: checker.ConfigSubset(),
	}
	if err = WriteMetadata(run.OutputDir, md); err != nil {
		return res, err
	}

	if j.usesWatermark() && watermarkValue != "" {
		wmErr := j.Watermarks.Save(ctx, &watermark.Watermark{
			Key:             wmKey,
			Type:            run.Job.Source.WatermarkType,
			Value:           watermarkValue,
			LastRunID:       run.RunID,
			LastRunDate:     run.RunDate,
			LastRecordCount: res.RecordCount,
		})
		if wmErr != nil {
			err = fmt.Errorf("save watermark: %w", wmErr)
			return res, err
		}
	}

	j.report(ctx, snap, manifest, res.RecordCount, elapsed)
	logger.Info("run complete", "records", res.RecordCount, "chunks", res.ChunkCount, "files", len(res.Files), "elapsedMs", elapsed.Milliseconds())
	return res, nil
}

// gatePriorOutput inspects output already present for this partition.
// A valid checksum manifest means a completed run produced it and the
// job must not overwrite it. Anything else is leftover from a failed
// run and gets cleared.
func (j *Job) gatePriorOutput(logger *slog.Logger) error {
	dir := j.Run.OutputDir
	if !integrity.ManifestExists(dir) {
		return nil
	}
	verify := integrity.VerifyManifest(dir, j.Run.Job.LoadPattern)
	if verify.Valid {
		return fmt.Errorf("partition %s: %w", j.Run.PartitionPath, ErrDuplicateRun)
	}
	logger.Warn("clearing unverifiable prior output", "dir", dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear prior output: %w", err)
	}
	return nil
}

// cleanupArtifacts removes this run's output so a rerun starts clean.
// Part files are swept by prefix because a failed parallel write may
// have produced files the processor never reported.
func (j *Job) cleanupArtifacts(logger *slog.Logger, files []string) {
	targets := append([]string{}, files...)
	pattern := filepath.Join(j.Run.OutputDir, j.Run.Job.Output.FilePrefix+"-part-*")
	if matches, err := filepath.Glob(pattern); err == nil {
		for _, m := range matches {
			targets = append(targets, filepath.Base(m))
		}
	}
	targets = append(targets, integrity.ManifestFileName, MetadataFileName)
	for _, name := range targets {
		if err := os.Remove(filepath.Join(j.Run.OutputDir, name)); err != nil && !os.IsNotExist(err) {
			logger.Error("cleanup failed", "file", name, "error", err)
		}
	}
}

func (j *Job) usesWatermark() bool {
	if j.Run.Job.Source.WatermarkColumn == "" || j.Watermarks == nil {
		return false
	}
	switch j.Run.Job.LoadPattern {
	case config.PatternIncrementalAppend, config.PatternIncrementalMerge, config.PatternCDC:
		return true
	}
	return false
}

func (j *Job) schemaDir() string {
	return filepath.Join(j.SchemaDir, strings.ReplaceAll(j.Run.Job.Source.Key(), ".", "__"))
}

func (j *Job) report(ctx context.Context, snap *schema.Snapshot, manifest *integrity.Manifest, recordCount int64, elapsed time.Duration) {
	for _, r := range j.Reporters {
		r.ReportSchema(ctx, SchemaPayload{
			SourceKey: j.Run.Job.Source.Key(),
			RunID:     j.Run.RunID,
			Snapshot:  snap,
		})
		r.ReportRunMetadata(ctx, RunPayload{
			SourceKey:   j.Run.Job.Source.Key(),
			RunID:       j.Run.RunID,
			RunDate:     j.Run.RunDate,
			Status:      checkpoint.StatusSuccess,
			RecordCount: recordCount,
			ChunkCount:  len(manifest.Files),
			DurationMs:  elapsed.Milliseconds(),
		})
		artifacts := make([]string, 0, len(manifest.Files))
		for _, f := range manifest.Files {
			artifacts = append(artifacts, f.Path)
		}
		r.ReportLineage(ctx, LineagePayload{
			SourceKey:  j.Run.Job.Source.Key(),
			RunID:      j.Run.RunID,
			OutputPath: j.Run.OutputDir,
			Artifacts:  artifacts,
		})
	}
}

func remoteDir(run *config.RunContext) string {
	if !run.Job.Storage.Enabled {
		return ""
	}
	prefix := run.Job.Storage.RemotePrefix
	if prefix == "" {
		return run.PartitionPath
	}
	return prefix + "/" + run.PartitionPath
}

func asMaps(records []record.Record) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

func recordsPerSec(count int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return float64(count)
	}
	return float64(count) / secs
}
