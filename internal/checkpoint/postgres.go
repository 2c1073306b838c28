package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps checkpoints as lease rows in a shared database so
// distributed workers contend on the same ledger. A held lease is stale
// only once its TTL expires; there is no PID visibility across hosts, so
// the lease TTL is the only staleness signal here.
type PostgresStore struct {
	pool     *pgxpool.Pool
	leaseTTL time.Duration
}

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS bronze_checkpoints (
	checkpoint_id   TEXT PRIMARY KEY,
	partition_path  TEXT NOT NULL,
	source_key      TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	run_date        TEXT NOT NULL,
	status          TEXT NOT NULL,
	acquired_at     TIMESTAMPTZ NOT NULL,
	released_at     TIMESTAMPTZ,
	record_count    BIGINT NOT NULL DEFAULT 0,
	chunk_count     INT NOT NULL DEFAULT 0,
	artifact_count  INT NOT NULL DEFAULT 0,
	watermark_value TEXT,
	error_message   TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS bronze_checkpoints_live
	ON bronze_checkpoints (partition_path)
	WHERE status = 'ACQUIRED';
`

// NewPostgresStore builds a database-backed store and ensures its table.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, leaseTTL time.Duration) (*PostgresStore, error) {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Minute
	}
	if _, err := pool.Exec(ctx, checkpointSchema); err != nil {
		return nil, fmt.Errorf("ensure checkpoint table: %w", err)
	}
	return &PostgresStore{pool: pool, leaseTTL: leaseTTL}, nil
}

// AcquireLock inserts an ACQUIRED row; the partial unique index rejects a
// second live lease for the partition. Expired leases are released as
// FAILED first so the insert can proceed.
func (s *PostgresStore) AcquireLock(ctx context.Context, req AcquireRequest) (*Checkpoint, error) {
	cutoff := time.Now().Add(-s.leaseTTL)
	_, err := s.pool.Exec(ctx, `
		UPDATE bronze_checkpoints
		SET status = 'FAILED',
		    released_at = now(),
		    error_message = 'lease expired'
		WHERE partition_path = $1 AND status = 'ACQUIRED' AND acquired_at < $2`,
		req.PartitionPath, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire stale leases: %w", err)
	}

	cp := &Checkpoint{
		CheckpointID:  uuid.New().String(),
		PartitionPath: req.PartitionPath,
		SourceKey:     req.SourceKey,
		RunID:         req.RunID,
		RunDate:       req.RunDate,
		Status:        StatusAcquired,
		AcquiredAt:    time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bronze_checkpoints
			(checkpoint_id, partition_path, source_key, run_id, run_date, status, acquired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cp.CheckpointID, cp.PartitionPath, cp.SourceKey, cp.RunID, cp.RunDate, cp.Status, cp.AcquiredAt)
	if err != nil {
		holder, lookupErr := s.liveHolder(ctx, req.PartitionPath)
		if lookupErr == nil && holder != "" {
			return nil, &ConflictError{PartitionPath: req.PartitionPath, HolderRunID: holder}
		}
		return nil, fmt.Errorf("acquire checkpoint lease: %w", err)
	}
	return cp, nil
}

func (s *PostgresStore) liveHolder(ctx context.Context, partitionPath string) (string, error) {
	var runID string
	err := s.pool.QueryRow(ctx, `
		SELECT run_id FROM bronze_checkpoints
		WHERE partition_path = $1 AND status = 'ACQUIRED'`,
		partitionPath).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return runID, nil
}

// ReleaseLock stamps the run's live lease with its terminal outcome.
func (s *PostgresStore) ReleaseLock(ctx context.Context, rel Release) error {
	status := StatusFailed
	if rel.Success {
		status = StatusSuccess
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE bronze_checkpoints
		SET status = $1,
		    released_at = now(),
		    record_count = $2,
		    chunk_count = $3,
		    artifact_count = $4,
		    watermark_value = $5,
		    error_message = $6
		WHERE partition_path = $7 AND run_id = $8 AND status = 'ACQUIRED'`,
		status, rel.RecordCount, rel.ChunkCount, rel.ArtifactCount,
		rel.WatermarkValue, rel.ErrorMessage, rel.PartitionPath, rel.RunID)
	if err != nil {
		return fmt.Errorf("release checkpoint lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release: no live checkpoint for %s owned by run %s", rel.PartitionPath, rel.RunID)
	}
	return nil
}

// Get returns the most recent checkpoint for a partition, nil if none.
func (s *PostgresStore) Get(ctx context.Context, partitionPath string) (*Checkpoint, error) {
	var cp Checkpoint
	var releasedAt *time.Time
	var watermark, errMsg *string
	err := s.pool.QueryRow(ctx, `
		SELECT checkpoint_id, partition_path, source_key, run_id, run_date, status,
		       acquired_at, released_at, record_count, chunk_count, artifact_count,
		       watermark_value, error_message
		FROM bronze_checkpoints
		WHERE partition_path = $1
		ORDER BY acquired_at DESC
		LIMIT 1`, partitionPath).Scan(
		&cp.CheckpointID, &cp.PartitionPath, &cp.SourceKey, &cp.RunID, &cp.RunDate,
		&cp.Status, &cp.AcquiredAt, &releasedAt, &cp.RecordCount, &cp.ChunkCount,
		&cp.ArtifactCount, &watermark, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if releasedAt != nil {
		cp.ReleasedAt = *releasedAt
	}
	if watermark != nil {
		cp.WatermarkValue = *watermark
	}
	if errMsg != nil {
		cp.ErrorMessage = *errMsg
	}
	return &cp, nil
}
