package checkpoint

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), nil, WithLockTimeout(500*time.Millisecond), WithPollInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func TestAcquireRelease_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	req := AcquireRequest{PartitionPath: "crm/orders/dt=2026-08-30", SourceKey: "crm.orders", RunID: "run-1", RunDate: "2026-08-30"}

	cp, err := store.AcquireLock(ctx, req)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if cp.Status != StatusAcquired {
		t.Errorf("expected ACQUIRED, got %s", cp.Status)
	}

	err = store.ReleaseLock(ctx, Release{
		PartitionPath: req.PartitionPath,
		RunID:         "run-1",
		Success:       true,
		RecordCount:   2500,
		ChunkCount:    3,
		ArtifactCount: 3,
	})
	if err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	got, err := store.Get(ctx, req.PartitionPath)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", got.Status)
	}
	if got.RecordCount != 2500 || got.ChunkCount != 3 {
		t.Errorf("counts not persisted: records=%d chunks=%d", got.RecordCount, got.ChunkCount)
	}
}

func TestAcquire_ConflictWhileHeld(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition := "crm/orders/dt=2026-08-30"

	if _, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-1"}); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// The holder's PID is this test process, so the lock is live.
	_, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-2"})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.HolderRunID != "run-1" {
		t.Errorf("expected holder run-1, got %s", conflict.HolderRunID)
	}
}

func TestAcquire_AfterReleaseSucceeds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition := "crm/orders/dt=2026-08-30"

	if _, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-1"}); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := store.ReleaseLock(ctx, Release{PartitionPath: partition, RunID: "run-1", Success: false, ErrorMessage: "boom"}); err != nil {
		t.Fatalf("release: %v", err)
	}

	cp, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-2"})
	if err != nil {
		t.Fatalf("re-acquire after failed run: %v", err)
	}
	if cp.RunID != "run-2" {
		t.Errorf("expected run-2 to hold the lock, got %s", cp.RunID)
	}
}

func TestAcquire_ReclaimsDeadHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition := "crm/orders/dt=2026-08-30"

	// Forge a lock owned by a PID that cannot exist.
	stale := &Checkpoint{
		CheckpointID:  "stale",
		PartitionPath: partition,
		RunID:         "run-dead",
		Status:        StatusAcquired,
		PID:           1 << 30,
		AcquiredAt:    time.Now().Add(-time.Hour),
	}
	if err := writeCheckpointFile(store.lockPath(partition), stale); err != nil {
		t.Fatalf("forge stale lock: %v", err)
	}

	cp, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-2"})
	if err != nil {
		t.Fatalf("expected stale lock reclaimed, got %v", err)
	}
	if cp.RunID != "run-2" {
		t.Errorf("expected run-2 after reclaim, got %s", cp.RunID)
	}
}

func TestAcquire_EmptyLockFileCountsAsHeld(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition := "crm/orders/dt=2026-08-30"
	path := store.lockPath(partition)

	// An empty lock file is what a crashed or mid-write owner leaves
	// behind. It must never be reclaimed without a decoded PID.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("create empty lock: %v", err)
	}
	f.Close()

	_, err = store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-2"})
	var timeout *LockAcquireError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected LockAcquireError for an undecodable lock, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file must survive the failed acquire: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("lock file was rewritten by the losing contender: %q", data)
	}
}

func TestAcquire_GarbageLockFileCountsAsHeld(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition := "crm/orders/dt=2026-08-30"
	path := store.lockPath(partition)

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write garbage lock: %v", err)
	}

	_, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-2"})
	var timeout *LockAcquireError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected LockAcquireError for a garbage lock, got %v", err)
	}
	if got, _ := os.ReadFile(path); string(got) != "{not json" {
		t.Errorf("garbage lock was replaced: %q", got)
	}
}

func TestAcquire_PublishesCompleteBodyAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition := "crm/orders/dt=2026-08-30"

	if _, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-1"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// The published lock decodes in one read: there is no window where
	// the file exists without its body.
	cp, err := readCheckpointFile(store.lockPath(partition))
	if err != nil {
		t.Fatalf("published lock must decode: %v", err)
	}
	if cp.RunID != "run-1" || cp.Status != StatusAcquired || cp.PID != os.Getpid() {
		t.Errorf("published lock incomplete: %+v", cp)
	}
}

func TestRelease_WrongOwnerRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition := "crm/orders/dt=2026-08-30"

	if _, err := store.AcquireLock(ctx, AcquireRequest{PartitionPath: partition, RunID: "run-1"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := store.ReleaseLock(ctx, Release{PartitionPath: partition, RunID: "run-other", Success: true}); err == nil {
		t.Error("release by a non-owner must fail")
	}
}

func TestGet_NoCheckpoint(t *testing.T) {
	store := newTestStore(t)
	cp, err := store.Get(context.Background(), "never/locked/dt=2026-01-01")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil for unknown partition, got %+v", cp)
	}
}
