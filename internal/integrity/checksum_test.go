package integrity

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestWriteAndVerifyManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders-part-0001.csv", "id,name\n1,alpha\n")
	writeFile(t, dir, "orders-part-0002.csv", "id,name\n2,beta\n")

	manifest, err := WriteManifest(dir, []string{"orders-part-0001.csv", "orders-part-0002.csv"}, "snapshot")
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if len(manifest.Files) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(manifest.Files))
	}
	for _, entry := range manifest.Files {
		if len(entry.SHA256) != 64 {
			t.Errorf("%s: expected 64-char hex digest, got %q", entry.Path, entry.SHA256)
		}
		if entry.SizeBytes <= 0 {
			t.Errorf("%s: expected positive size, got %d", entry.Path, entry.SizeBytes)
		}
	}

	result := VerifyManifest(dir, "snapshot")
	if !result.Valid {
		t.Fatalf("expected valid verification, missing=%v mismatched=%v", result.MissingFiles, result.MismatchedFiles)
	}
	if len(result.VerifiedFiles) != 2 {
		t.Errorf("expected 2 verified files, got %d", len(result.VerifiedFiles))
	}

	// Verification is read-only, running it again gives the same answer.
	again := VerifyManifest(dir, "snapshot")
	if !again.Valid {
		t.Error("second verification should also pass")
	}
}

func TestVerifyManifest_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "original")
	writeFile(t, dir, "b.csv", "untouched")
	if _, err := WriteManifest(dir, []string{"a.csv", "b.csv"}, "snapshot"); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	writeFile(t, dir, "a.csv", "tampered")

	result := VerifyManifest(dir, "snapshot")
	if result.Valid {
		t.Fatal("expected verification to fail after corruption")
	}
	if len(result.MismatchedFiles) != 1 || result.MismatchedFiles[0] != "a.csv" {
		t.Errorf("expected a.csv mismatched, got %v", result.MismatchedFiles)
	}
	if len(result.MissingFiles) != 0 {
		t.Errorf("expected no missing files, got %v", result.MissingFiles)
	}
	if len(result.VerifiedFiles) != 1 || result.VerifiedFiles[0] != "b.csv" {
		t.Errorf("expected b.csv verified, got %v", result.VerifiedFiles)
	}
}

func TestVerifyManifest_DetectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "data")
	if _, err := WriteManifest(dir, []string{"a.csv"}, "snapshot"); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "a.csv")); err != nil {
		t.Fatal(err)
	}

	result := VerifyManifest(dir, "snapshot")
	if result.Valid {
		t.Fatal("expected verification to fail for missing file")
	}
	if len(result.MissingFiles) != 1 || result.MissingFiles[0] != "a.csv" {
		t.Errorf("expected a.csv missing, got %v", result.MissingFiles)
	}
}

func TestVerifyManifest_NoManifest(t *testing.T) {
	result := VerifyManifest(t.TempDir(), "snapshot")
	if result.Valid {
		t.Error("missing manifest must not verify")
	}
}

func TestVerifyManifest_MalformedManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFileName, "{not json")
	result := VerifyManifest(dir, "snapshot")
	if result.Valid {
		t.Error("malformed manifest must not verify")
	}
}

func TestVerifyManifest_PatternMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "data")
	if _, err := WriteManifest(dir, []string{"a.csv"}, "snapshot"); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	result := VerifyManifest(dir, "incremental_append")
	if result.Valid {
		t.Error("load pattern mismatch must not verify")
	}
}

func TestVerifyManifest_EmptyFileList(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteManifest(dir, nil, "snapshot"); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	result := VerifyManifest(dir, "snapshot")
	if result.Valid {
		t.Error("manifest with no files must not verify")
	}
}
