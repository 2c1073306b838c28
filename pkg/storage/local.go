package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores objects on disk under a root directory, mimicking an object
// store so the same upload/list/delete flow works without cloud access.
type Local struct {
	root string
}

// NewLocal creates a filesystem-backed store rooted at dir.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "bronze-store")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	return &Local{root: root}, nil
}

// Root returns the backing directory.
func (l *Local) Root() string { return l.root }

func (l *Local) objectPath(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *Local) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return wrapError(CodeObjectNotFound, false, err)
		}
		return wrapError(CodePermissionDenied, false, err)
	}
	defer src.Close()

	target := l.objectPath(remotePath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	dst, err := os.Create(target)
	if err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (l *Local) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(l.objectPath(remotePath))
	if err != nil {
		if os.IsNotExist(err) {
			return wrapError(CodeObjectNotFound, false, err)
		}
		return wrapError(CodePermissionDenied, false, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) Delete(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.objectPath(remotePath)); err != nil {
		if os.IsNotExist(err) {
			return wrapError(CodeObjectNotFound, false, err)
		}
		return wrapError(CodePermissionDenied, false, err)
	}
	return nil
}

func (l *Local) HealthCheck(ctx context.Context) *HealthReport {
	scratch, err := scratchProbeFile()
	if err != nil {
		return &HealthReport{
			Errors:             []string{err.Error()},
			CheckedPermissions: map[string]bool{"write": false},
		}
	}
	defer os.Remove(scratch)
	defer os.Remove(scratch + ".echo")
	return probeHealth(ctx, l, scratch)
}

// scratchProbeFile writes a small throwaway file for health probes.
func scratchProbeFile() (string, error) {
	f, err := os.CreateTemp("", "bronze-probe-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString("probe"); err != nil {
		return "", err
	}
	return f.Name(), nil
}
