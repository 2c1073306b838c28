package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
jobs:
  - name: orders-snapshot
    source:
      system: crm
      table: orders
      kind: file
      path: /data/orders.jsonl
      format: jsonl
    load_pattern: snapshot
    chunking:
      max_rows: 1000
    output:
      dir: /data/bronze
      write_csv: true
`

func loadFromString(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bronze.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return Load(path)
}

func TestLoad_ValidConfigWithDefaults(t *testing.T) {
	cfg, err := loadFromString(t, validYAML)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(cfg.Jobs))
	}
	job := cfg.Jobs[0]
	if job.Output.FilePrefix != "orders" {
		t.Errorf("file_prefix should default to the table name, got %q", job.Output.FilePrefix)
	}
	if cfg.MaxWorkers <= 0 {
		t.Errorf("max_workers should default positive, got %d", cfg.MaxWorkers)
	}
	if cfg.StateDir == "" || cfg.WatermarkPath == "" {
		t.Error("state paths should receive defaults")
	}
	if !job.CleanupEnabled() {
		t.Error("cleanup_on_failure should default to enabled")
	}
}

func TestLoad_RejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "no formats",
			mutate:  func(y string) string { return strings.Replace(y, "write_csv: true", "write_csv: false", 1) },
			wantErr: "no output format",
		},
		{
			name:    "bad pattern",
			mutate:  func(y string) string { return strings.Replace(y, "load_pattern: snapshot", "load_pattern: hourly", 1) },
			wantErr: "unknown load_pattern",
		},
		{
			name:    "missing output dir",
			mutate:  func(y string) string { return strings.Replace(y, "dir: /data/bronze", "dir: \"\"", 1) },
			wantErr: "output.dir",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadFromString(t, tc.mutate(validYAML))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoad_IncrementalRequiresWatermarkColumn(t *testing.T) {
	yaml := strings.Replace(validYAML, "load_pattern: snapshot", "load_pattern: incremental_append", 1)
	if _, err := loadFromString(t, yaml); err == nil {
		t.Error("incremental load without watermark_column must fail")
	}

	yaml = strings.Replace(yaml, "format: jsonl", "format: jsonl\n      watermark_column: updated_at\n      watermark_type: timestamp", 1)
	if _, err := loadFromString(t, yaml); err != nil {
		t.Errorf("incremental load with watermark_column should pass: %v", err)
	}
}

func TestLoad_DuplicateJobNames(t *testing.T) {
	dup := validYAML + validYAML[strings.Index(validYAML, "  - name:"):]
	if _, err := loadFromString(t, dup); err == nil {
		t.Error("duplicate job names must fail validation")
	}
}

func TestNewRunContext_PartitionLayout(t *testing.T) {
	job := JobConfig{
		Source: SourceConfig{System: "crm", Table: "orders"},
		Output: OutputConfig{Dir: "/data/bronze"},
	}
	run := NewRunContext(job, "2026-08-30")

	if run.PartitionPath != "crm/orders/dt=2026-08-30" {
		t.Errorf("unexpected partition path %q", run.PartitionPath)
	}
	want := filepath.Join("/data/bronze", "crm", "orders", "dt=2026-08-30")
	if run.OutputDir != want {
		t.Errorf("expected output dir %q, got %q", want, run.OutputDir)
	}
	if !strings.HasPrefix(run.RunID, "run-") {
		t.Errorf("run id should carry the run- prefix, got %q", run.RunID)
	}

	// Two contexts for the same job share the partition but not the run id.
	other := NewRunContext(job, "2026-08-30")
	if other.RunID == run.RunID {
		t.Error("run ids must be unique per invocation")
	}
	if other.PartitionPath != run.PartitionPath {
		t.Error("partition path must be deterministic")
	}
}

func TestNewRunContext_DefaultsDateToToday(t *testing.T) {
	run := NewRunContext(JobConfig{Source: SourceConfig{System: "s", Table: "t"}}, "")
	if run.RunDate == "" {
		t.Error("run date should default to today")
	}
	if !strings.Contains(run.PartitionPath, "dt="+run.RunDate) {
		t.Errorf("partition should embed the run date: %s", run.PartitionPath)
	}
}
