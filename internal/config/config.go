// Package config loads the engine's job configuration and builds the
// immutable per-run context handed to extract jobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lakeland/bronze-core/internal/integrity"
	"github.com/lakeland/bronze-core/pkg/storage"
)

// Load patterns supported by the engine.
const (
	PatternSnapshot          = "snapshot"
	PatternIncrementalAppend = "incremental_append"
	PatternIncrementalMerge  = "incremental_merge"
	PatternCDC               = "cdc"
)

// SourceConfig identifies where records come from.
type SourceConfig struct {
	System          string `yaml:"system"`
	Table           string `yaml:"table"`
	Kind            string `yaml:"kind"` // file | static
	Path            string `yaml:"path,omitempty"`
	Format          string `yaml:"format,omitempty"` // jsonl | csv
	WatermarkColumn string `yaml:"watermark_column,omitempty"`
	WatermarkType   string `yaml:"watermark_type,omitempty"`
}

// Key returns the source's ledger key.
func (s SourceConfig) Key() string {
	return fmt.Sprintf("%s.%s", s.System, s.Table)
}

// ChunkingConfig bounds chunk files.
type ChunkingConfig struct {
	MaxRows      int   `yaml:"max_rows"`
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

// OutputConfig controls the artifact formats written per chunk.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	WriteCSV     bool   `yaml:"write_csv"`
	WriteParquet bool   `yaml:"write_parquet"`
	Compression  string `yaml:"compression,omitempty"` // none | gzip (csv), snappy (parquet)
	FilePrefix   string `yaml:"file_prefix,omitempty"`
}

// StoragePlan says whether produced files are also uploaded to a backend.
type StoragePlan struct {
	Enabled      bool                     `yaml:"enabled"`
	Backend      string                   `yaml:"backend"` // local | s3
	RemotePrefix string                   `yaml:"remote_prefix,omitempty"`
	LocalRoot    string                   `yaml:"local_root,omitempty"`
	S3           storage.S3Config         `yaml:"s3,omitempty"`
	Resilience   storage.ResilienceConfig `yaml:"resilience,omitempty"`
}

// JobConfig describes one extraction job.
type JobConfig struct {
	Name             string                     `yaml:"name"`
	Source           SourceConfig               `yaml:"source"`
	LoadPattern      string                     `yaml:"load_pattern"`
	Chunking         ChunkingConfig             `yaml:"chunking"`
	Output           OutputConfig               `yaml:"output"`
	Storage          StoragePlan                `yaml:"storage"`
	SchemaPolicy     string                     `yaml:"schema_policy,omitempty"`
	Quarantine       integrity.QuarantineConfig `yaml:"quarantine"`
	CleanupOnFailure *bool                      `yaml:"cleanup_on_failure,omitempty"`
	ParallelWorkers  int                        `yaml:"parallel_workers,omitempty"`
	SchemaSampleSize int                        `yaml:"schema_sample_size,omitempty"`
}

// CleanupEnabled resolves the cleanup_on_failure toggle, default true.
func (j JobConfig) CleanupEnabled() bool {
	if j.CleanupOnFailure == nil {
		return true
	}
	return *j.CleanupOnFailure
}

// Config is the engine configuration for one invocation.
type Config struct {
	Jobs          []JobConfig   `yaml:"jobs"`
	MaxWorkers    int           `yaml:"max_workers"`
	StateDir      string        `yaml:"state_dir"`
	WatermarkPath string        `yaml:"watermark_path"`
	PostgresDSN   string        `yaml:"postgres_dsn,omitempty"`
	LockTimeout   time.Duration `yaml:"lock_timeout,omitempty"`
}

// Load reads and validates a YAML config file, applying env defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = getEnvInt("BRONZE_MAX_WORKERS", 4)
	}
	if c.StateDir == "" {
		c.StateDir = getEnv("BRONZE_STATE_DIR", filepath.Join(os.TempDir(), "bronze-state"))
	}
	if c.WatermarkPath == "" {
		c.WatermarkPath = getEnv("BRONZE_WATERMARK_PATH", filepath.Join(c.StateDir, "watermarks.json"))
	}
	if c.PostgresDSN == "" {
		c.PostgresDSN = getEnv("BRONZE_POSTGRES_DSN", "")
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
}

// Validate rejects malformed configs before any side effects.
func (c *Config) Validate() error {
	if len(c.Jobs) == 0 {
		return fmt.Errorf("config: at least one job is required")
	}
	names := map[string]bool{}
	for i := range c.Jobs {
		job := &c.Jobs[i]
		if job.Name == "" {
			return fmt.Errorf("config: job %d has no name", i)
		}
		if names[job.Name] {
			return fmt.Errorf("config: duplicate job name %q", job.Name)
		}
		names[job.Name] = true
		if job.Source.System == "" || job.Source.Table == "" {
			return fmt.Errorf("config: job %q needs source.system and source.table", job.Name)
		}
		switch job.LoadPattern {
		case "":
			job.LoadPattern = PatternSnapshot
		case PatternSnapshot, PatternIncrementalAppend, PatternIncrementalMerge, PatternCDC:
		default:
			return fmt.Errorf("config: job %q has unknown load_pattern %q", job.Name, job.LoadPattern)
		}
		if job.LoadPattern != PatternSnapshot && job.Source.WatermarkColumn == "" {
			return fmt.Errorf("config: job %q needs source.watermark_column for %s loads", job.Name, job.LoadPattern)
		}
		if !job.Output.WriteCSV && !job.Output.WriteParquet {
			return fmt.Errorf("config: job %q enables no output format", job.Name)
		}
		if job.Output.Dir == "" {
			return fmt.Errorf("config: job %q needs output.dir", job.Name)
		}
		if job.Output.FilePrefix == "" {
			job.Output.FilePrefix = job.Source.Table
		}
		if job.Storage.Enabled {
			switch job.Storage.Backend {
			case "local", "s3":
			default:
				return fmt.Errorf("config: job %q has unknown storage backend %q", job.Name, job.Storage.Backend)
			}
		}
	}
	return nil
}

// RunContext is the immutable per-run descriptor. Created once per
// invocation and read-only thereafter.
type RunContext struct {
	Job           JobConfig
	RunID         string
	RunDate       string
	PartitionPath string
	OutputDir     string
}

// NewRunContext derives a run's identity and output layout from its job.
func NewRunContext(job JobConfig, runDate string) *RunContext {
	if runDate == "" {
		runDate = time.Now().UTC().Format("2006-01-02")
	}
	partition := filepath.ToSlash(filepath.Join(job.Source.System, job.Source.Table, "dt="+runDate))
	return &RunContext{
		Job:           job,
		RunID:         "run-" + uuid.New().String(),
		RunDate:       runDate,
		PartitionPath: partition,
		OutputDir:     filepath.Join(job.Output.Dir, filepath.FromSlash(partition)),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
