// Package storage abstracts the object stores the engine lands artifacts in.
//
// A Backend is the minimal upload/download/list/delete capability over a
// local directory tree or an S3-compatible service. Resilient decorates any
// Backend with a per-operation circuit breaker and a retry policy so that
// chunk uploads survive transient faults without the callers caring which
// variant sits underneath.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Backend is the uniform object-store capability used by chunk writers.
type Backend interface {
	// Upload copies a local file to the remote path.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Download copies a remote object to the local path.
	Download(ctx context.Context, remotePath, localPath string) error
	// List returns object keys under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes a remote object.
	Delete(ctx context.Context, remotePath string) error
	// HealthCheck probes the backend's permissions and latency.
	HealthCheck(ctx context.Context) *HealthReport
}

// HealthReport captures the outcome of a health probe, including partial
// results when individual permission checks fail.
type HealthReport struct {
	IsHealthy          bool            `json:"is_healthy"`
	Capabilities       []string        `json:"capabilities"`
	Errors             []string        `json:"errors"`
	CheckedPermissions map[string]bool `json:"checked_permissions"`
	LatencyMs          int64           `json:"latency_ms"`
}

// probeHealth exercises write, read, list and delete against the backend
// with a unique temporary key, recording per-permission results as it goes.
func probeHealth(ctx context.Context, b Backend, scratchFile string) *HealthReport {
	report := &HealthReport{
		CheckedPermissions: map[string]bool{},
	}
	start := time.Now()
	defer func() {
		report.LatencyMs = time.Since(start).Milliseconds()
		report.IsHealthy = len(report.Errors) == 0
	}()

	tmpKey := fmt.Sprintf("_health/probe-%s", uuid.New().String())

	wrote := true
	if err := b.Upload(ctx, scratchFile, tmpKey); err != nil {
		wrote = false
		report.CheckedPermissions["write"] = false
		report.Errors = append(report.Errors, fmt.Sprintf("write: %v", err))
	} else {
		report.CheckedPermissions["write"] = true
		report.Capabilities = append(report.Capabilities, "write")
	}

	// Read and delete need the probe object, so a failed write skips
	// them rather than reporting spurious denials.
	if wrote {
		if err := b.Download(ctx, tmpKey, scratchFile+".echo"); err != nil {
			report.CheckedPermissions["read"] = false
			report.Errors = append(report.Errors, fmt.Sprintf("read: %v", err))
		} else {
			report.CheckedPermissions["read"] = true
			report.Capabilities = append(report.Capabilities, "read")
		}
	}

	if _, err := b.List(ctx, "_health/"); err != nil {
		report.CheckedPermissions["list"] = false
		report.Errors = append(report.Errors, fmt.Sprintf("list: %v", err))
	} else {
		report.CheckedPermissions["list"] = true
		report.Capabilities = append(report.Capabilities, "list")
	}

	if wrote {
		if err := b.Delete(ctx, tmpKey); err != nil {
			report.CheckedPermissions["delete"] = false
			report.Errors = append(report.Errors, fmt.Sprintf("delete: %v", err))
		} else {
			report.CheckedPermissions["delete"] = true
			report.Capabilities = append(report.Capabilities, "delete")
		}
	}

	return report
}

// IsRetryable reports whether the error carries a retryable hint.
// Errors without a code are treated as retryable; not-found and
// permission-denied classes are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.RetryableStatus()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
