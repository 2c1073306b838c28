package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// errLockContended means another contender moved the lock file mid-attempt.
// The acquire loop keeps polling until its timeout.
var errLockContended = errors.New("checkpoint lock contended")

// LocalStore keeps checkpoints as JSON lock files under a state directory.
// The lock file carries the owning PID; staleness is decided by PID
// liveness, never by ambiguous errors.
type LocalStore struct {
	dir          string
	pollInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger
}

// LocalStoreOption tunes a LocalStore.
type LocalStoreOption func(*LocalStore)

// WithLockTimeout overrides how long AcquireLock polls before giving up.
func WithLockTimeout(d time.Duration) LocalStoreOption {
	return func(s *LocalStore) { s.lockTimeout = d }
}

// WithPollInterval overrides the fixed polling interval.
func WithPollInterval(d time.Duration) LocalStoreOption {
	return func(s *LocalStore) { s.pollInterval = d }
}

// NewLocalStore creates a file-backed checkpoint store under dir.
func NewLocalStore(dir string, logger *slog.Logger, opts ...LocalStoreOption) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "bronze-checkpoints")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &LocalStore{
		dir:          dir,
		pollInterval: 250 * time.Millisecond,
		lockTimeout:  30 * time.Second,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *LocalStore) lockPath(partitionPath string) string {
	name := strings.NewReplacer("/", "__", "\\", "__", ":", "_").Replace(partitionPath)
	return filepath.Join(s.dir, name+".lock.json")
}

// AcquireLock polls for the partition lock at a fixed interval up to the
// configured timeout. A held lock whose owner is verifiably dead is
// reclaimed; a held lock with a live (or unprobeable) owner conflicts.
func (s *LocalStore) AcquireLock(ctx context.Context, req AcquireRequest) (*Checkpoint, error) {
	deadline := time.Now().Add(s.lockTimeout)
	path := s.lockPath(req.PartitionPath)

	for {
		cp, err := s.tryAcquire(path, req)
		if err == nil {
			s.logger.Info("checkpoint acquired", "partition", req.PartitionPath, "runId", req.RunID)
			return cp, nil
		}
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, &LockAcquireError{PartitionPath: req.PartitionPath, Timeout: s.lockTimeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// tryAcquire publishes the lock by hard-linking a fully written body into
// place, so a contender can never observe a partial entry. Replacing a
// terminal or dead entry retires it under a unique name first; only the
// contender whose rename succeeds may publish the replacement.
func (s *LocalStore) tryAcquire(path string, req AcquireRequest) (*Checkpoint, error) {
	cp := &Checkpoint{
		CheckpointID:  uuid.New().String(),
		PartitionPath: req.PartitionPath,
		SourceKey:     req.SourceKey,
		RunID:         req.RunID,
		RunDate:       req.RunDate,
		Status:        StatusAcquired,
		PID:           os.Getpid(),
		AcquiredAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := path + "." + cp.CheckpointID + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	defer os.Remove(tmp)

	err = os.Link(tmp, path)
	if err == nil {
		return cp, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("create checkpoint lock: %w", err)
	}

	existing, rerr := readCheckpointFile(path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return nil, errLockContended
		}
		// A lock that cannot be decoded belongs to an owner in an unknown
		// state. It counts as held; staleness needs a decoded PID.
		return nil, fmt.Errorf("checkpoint lock unreadable, treating as held: %w", rerr)
	}
	if existing.Status == StatusAcquired {
		if processAlive(existing.PID) {
			return nil, &ConflictError{PartitionPath: req.PartitionPath, HolderRunID: existing.RunID}
		}
		s.logger.Warn("reclaiming stale checkpoint", "partition", req.PartitionPath, "deadPid", existing.PID, "staleRunId", existing.RunID)
	}

	// Retire the terminal or dead entry under a unique name. The rename is
	// the fence: a contender that loses it backs off to the poll loop.
	retired := path + "." + cp.CheckpointID + ".retired"
	if err := os.Rename(path, retired); err != nil {
		return nil, errLockContended
	}
	got, gerr := readCheckpointFile(retired)
	if gerr != nil || got.CheckpointID != existing.CheckpointID {
		// The entry changed hands between the read and the rename.
		// Restore it and back off; link refuses to clobber a newer lock.
		if lerr := os.Link(retired, path); lerr == nil || os.IsExist(lerr) {
			os.Remove(retired)
		}
		return nil, errLockContended
	}
	os.Remove(retired)
	if err := os.Link(tmp, path); err != nil {
		return nil, errLockContended
	}
	return cp, nil
}

// ReleaseLock transitions the held checkpoint to its terminal status and
// records the final counts.
func (s *LocalStore) ReleaseLock(ctx context.Context, rel Release) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.lockPath(rel.PartitionPath)
	cp, err := readCheckpointFile(path)
	if err != nil {
		return fmt.Errorf("release: read checkpoint: %w", err)
	}
	if cp.RunID != rel.RunID {
		return fmt.Errorf("release: checkpoint for %s is owned by run %s, not %s", rel.PartitionPath, cp.RunID, rel.RunID)
	}

	if rel.Success {
		cp.Status = StatusSuccess
	} else {
		cp.Status = StatusFailed
	}
	cp.ReleasedAt = time.Now().UTC()
	cp.RecordCount = rel.RecordCount
	cp.ChunkCount = rel.ChunkCount
	cp.ArtifactCount = rel.ArtifactCount
	cp.WatermarkValue = rel.WatermarkValue
	cp.ErrorMessage = rel.ErrorMessage

	if err := writeCheckpointFile(path, cp); err != nil {
		return err
	}
	s.logger.Info("checkpoint released", "partition", rel.PartitionPath, "runId", rel.RunID, "status", cp.Status)
	return nil
}

// Get returns the latest checkpoint for a partition, nil when none exists.
func (s *LocalStore) Get(ctx context.Context, partitionPath string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp, err := readCheckpointFile(s.lockPath(partitionPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return cp, nil
}

func readCheckpointFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

func writeCheckpointFile(path string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// processAlive probes the owning PID with signal 0. ESRCH means the owner
// is gone and the lock is reclaimable; a permission error means the process
// exists under another user, which counts as alive. Over-eager reclamation
// risks duplicate runs, so any ambiguous probe counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}
	return true
}
