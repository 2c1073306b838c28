package integrity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// QuarantineDirName is the subdirectory corrupted artifacts are moved into.
const QuarantineDirName = "_quarantine"

// QuarantineManifestName records why files were quarantined.
const QuarantineManifestName = "_quarantine_manifest.json"

// QuarantineConfig controls whether and how corrupted files are set aside.
type QuarantineConfig struct {
	Enabled       bool `yaml:"enabled"`
	WriteManifest bool `yaml:"write_manifest"`
}

// QuarantineManifest documents a quarantine event.
type QuarantineManifest struct {
	Reason    string   `json:"reason"`
	Timestamp string   `json:"timestamp"`
	Files     []string `json:"files"`
}

// QuarantineResult summarizes a quarantine call.
type QuarantineResult struct {
	Count          int      `json:"count"`
	FailedFiles    []string `json:"failed_files"`
	QuarantinePath string   `json:"quarantine_path"`
}

// Quarantine moves the named files under dir into dir/_quarantine.
//
// Files that do not exist or cannot be moved land in FailedFiles rather than
// aborting the call. When quarantine is disabled nothing moves and every
// requested name is reported failed, so callers can tell it was skipped.
func Quarantine(dir string, filenames []string, reason string, cfg QuarantineConfig) (*QuarantineResult, error) {
	result := &QuarantineResult{}
	if !cfg.Enabled {
		result.FailedFiles = append(result.FailedFiles, filenames...)
		return result, nil
	}

	qdir := filepath.Join(dir, QuarantineDirName)
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return nil, err
	}
	result.QuarantinePath = qdir

	var moved []string
	for _, name := range filenames {
		src := filepath.Join(dir, name)
		if _, err := os.Stat(src); err != nil {
			result.FailedFiles = append(result.FailedFiles, name)
			continue
		}
		if err := os.Rename(src, filepath.Join(qdir, name)); err != nil {
			result.FailedFiles = append(result.FailedFiles, name)
			continue
		}
		moved = append(moved, name)
		result.Count++
	}

	if cfg.WriteManifest && len(moved) > 0 {
		manifest := QuarantineManifest{
			Reason:    reason,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Files:     moved,
		}
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err == nil {
			_ = os.WriteFile(filepath.Join(qdir, QuarantineManifestName), data, 0o644)
		}
	}

	return result, nil
}
