// Package integrity verifies landed artifacts against a checksum manifest
// and relocates corrupted files into quarantine.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestFileName is the checksum manifest written beside chunk files.
const ManifestFileName = "_checksums.json"

// hashBlockSize bounds each read while hashing so large artifacts never
// load fully into memory.
const hashBlockSize = 1 << 20

// ManifestEntry records one artifact's identity.
type ManifestEntry struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// Manifest lists the artifacts of one run with their checksums.
type Manifest struct {
	Timestamp   string          `json:"timestamp"`
	LoadPattern string          `json:"load_pattern"`
	Files       []ManifestEntry `json:"files"`
}

// VerifyResult is the structural outcome of a manifest verification.
// Mismatches are reported here, never as errors.
type VerifyResult struct {
	Valid              bool      `json:"valid"`
	VerifiedFiles      []string  `json:"verified_files"`
	MissingFiles       []string  `json:"missing_files"`
	MismatchedFiles    []string  `json:"mismatched_files"`
	Manifest           *Manifest `json:"manifest,omitempty"`
	VerificationTimeMs int64     `json:"verification_time_ms"`
}

// ComputeSHA256 hashes a file in fixed-size blocks.
func ComputeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteManifest records path, size and sha256 for each named file that
// exists under dir at call time, then writes _checksums.json.
func WriteManifest(dir string, files []string, loadPattern string) (*Manifest, error) {
	manifest := &Manifest{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		LoadPattern: loadPattern,
	}

	for _, name := range files {
		full := filepath.Join(dir, name)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		sum, err := ComputeSHA256(full)
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, ManifestEntry{
			Path:      name,
			SizeBytes: info.Size(),
			SHA256:    sum,
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// VerifyManifest checks every listed file's presence, size and hash.
// An absent, malformed, empty or pattern-mismatched manifest yields
// Valid=false; none of these conditions is an error. Verification is
// idempotent and touches nothing on disk.
func VerifyManifest(dir string, expectedPattern string) *VerifyResult {
	start := time.Now()
	result := &VerifyResult{}
	defer func() {
		result.VerificationTimeMs = time.Since(start).Milliseconds()
	}()

	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return result
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return result
	}
	if len(manifest.Files) == 0 {
		return result
	}
	if expectedPattern != "" && manifest.LoadPattern != expectedPattern {
		result.Manifest = &manifest
		return result
	}
	result.Manifest = &manifest

	for _, entry := range manifest.Files {
		full := filepath.Join(dir, entry.Path)
		info, err := os.Stat(full)
		if err != nil {
			result.MissingFiles = append(result.MissingFiles, entry.Path)
			continue
		}
		if info.Size() != entry.SizeBytes {
			result.MismatchedFiles = append(result.MismatchedFiles, entry.Path)
			continue
		}
		sum, err := ComputeSHA256(full)
		if err != nil || sum != entry.SHA256 {
			result.MismatchedFiles = append(result.MismatchedFiles, entry.Path)
			continue
		}
		result.VerifiedFiles = append(result.VerifiedFiles, entry.Path)
	}

	result.Valid = len(result.MissingFiles) == 0 && len(result.MismatchedFiles) == 0
	return result
}

// ManifestExists reports whether a checksum manifest is present under dir.
func ManifestExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFileName))
	return err == nil
}
