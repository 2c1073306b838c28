package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocal_UploadDownloadListDelete(t *testing.T) {
	root := t.TempDir()
	backend, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "orders-part-0001.csv")
	if err := os.WriteFile(src, []byte("id,name\n1,alpha\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := backend.Upload(ctx, src, "crm/orders/dt=2026-08-30/orders-part-0001.csv"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	keys, err := backend.List(ctx, "crm/orders/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "crm/orders/dt=2026-08-30/orders-part-0001.csv" {
		t.Errorf("unexpected keys: %v", keys)
	}

	dst := filepath.Join(t.TempDir(), "roundtrip.csv")
	if err := backend.Download(ctx, keys[0], dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "id,name\n1,alpha\n" {
		t.Errorf("round-trip content mismatch: %q (%v)", data, err)
	}

	if err := backend.Delete(ctx, keys[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	keys, _ = backend.List(ctx, "crm/orders/")
	if len(keys) != 0 {
		t.Errorf("expected empty listing after delete, got %v", keys)
	}
}

func TestLocal_DownloadMissingIsNotRetryable(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	err = backend.Download(context.Background(), "nope/missing.csv", filepath.Join(t.TempDir(), "out"))
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	var coded CodedError
	if !errors.As(err, &coded) || coded.CodeValue() != CodeObjectNotFound {
		t.Errorf("expected %s, got %v", CodeObjectNotFound, err)
	}
	if IsRetryable(err) {
		t.Error("not-found must not be retryable")
	}
}

func TestLocal_HealthCheck(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	report := backend.HealthCheck(context.Background())
	if !report.IsHealthy {
		t.Fatalf("expected healthy local backend, errors: %v", report.Errors)
	}
	for _, perm := range []string{"write", "read", "list", "delete"} {
		if !report.CheckedPermissions[perm] {
			t.Errorf("permission %s should be granted", perm)
		}
	}
	if report.LatencyMs < 0 {
		t.Errorf("latency must be non-negative, got %d", report.LatencyMs)
	}
}
