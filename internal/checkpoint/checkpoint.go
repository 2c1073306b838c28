// Package checkpoint provides the per-partition exclusive run lock and the
// run-outcome ledger guaranteeing at most one successful run per partition.
package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// Checkpoint statuses.
const (
	StatusAcquired = "ACQUIRED"
	StatusSuccess  = "SUCCESS"
	StatusFailed   = "FAILED"
)

// Checkpoint is a partition-scoped lock and ledger entry.
type Checkpoint struct {
	CheckpointID   string    `json:"checkpoint_id"`
	PartitionPath  string    `json:"partition_path"`
	SourceKey      string    `json:"source_key"`
	RunID          string    `json:"run_id"`
	RunDate        string    `json:"run_date"`
	Status         string    `json:"status"`
	PID            int       `json:"pid"`
	AcquiredAt     time.Time `json:"acquired_at"`
	ReleasedAt     time.Time `json:"released_at,omitempty"`
	RecordCount    int64     `json:"record_count"`
	ChunkCount     int       `json:"chunk_count"`
	ArtifactCount  int       `json:"artifact_count"`
	WatermarkValue string    `json:"watermark_value,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// AcquireRequest carries the identity of the run asking for the lock.
type AcquireRequest struct {
	PartitionPath   string
	SourceKey       string
	RunID           string
	RunDate         string
	WatermarkColumn string
	WatermarkType   string
}

// Release carries the final outcome written back on release.
type Release struct {
	PartitionPath  string
	RunID          string
	Success        bool
	RecordCount    int64
	ChunkCount     int
	ArtifactCount  int
	WatermarkValue string
	ErrorMessage   string
}

// Store is the pluggable checkpoint backing: a local lock file for
// single-node runs, a database lease for distributed deployments.
type Store interface {
	// AcquireLock creates an ACQUIRED checkpoint or fails with
	// ConflictError while a live non-terminal checkpoint holds the
	// partition.
	AcquireLock(ctx context.Context, req AcquireRequest) (*Checkpoint, error)
	// ReleaseLock transitions the checkpoint to SUCCESS or FAILED.
	ReleaseLock(ctx context.Context, rel Release) error
	// Get returns the latest checkpoint for a partition, nil if none.
	Get(ctx context.Context, partitionPath string) (*Checkpoint, error)
}

// ConflictError reports another live run holding the partition. Callers
// treat it as a skip, not a failure.
type ConflictError struct {
	PartitionPath string
	HolderRunID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("partition %s is locked by run %s", e.PartitionPath, e.HolderRunID)
}

// LockAcquireError reports an exclusive-lock timeout. Fatal to the run.
type LockAcquireError struct {
	PartitionPath string
	Timeout       time.Duration
}

func (e *LockAcquireError) Error() string {
	return fmt.Sprintf("could not acquire lock for %s within %s", e.PartitionPath, e.Timeout)
}
