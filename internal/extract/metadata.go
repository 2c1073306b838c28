package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lakeland/bronze-core/internal/record"
	"github.com/lakeland/bronze-core/internal/schema"
)

// MetadataFileName is the run metadata written beside chunk files.
const MetadataFileName = "_metadata.json"

// RunMetadata is the _metadata.json payload for one run.
type RunMetadata struct {
	Timestamp   string         `json:"timestamp"`
	RunID       string         `json:"run_id"`
	LoadPattern string         `json:"load_pattern"`
	RecordCount int64          `json:"record_count"`
	ChunkCount  int            `json:"chunk_count"`
	Cursor      string         `json:"cursor,omitempty"`
	Performance map[string]any `json:"performance"`
	Quality     map[string]any `json:"quality"`
	SchemaCheck map[string]any `json:"schema_check,omitempty"`
}

// WriteMetadata persists the run metadata under dir.
func WriteMetadata(dir string, md *RunMetadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFileName), data, 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	return nil
}

// qualityMetrics counts nulls per column across the batch.
func qualityMetrics(records []record.Record, snap *schema.Snapshot) map[string]any {
	nulls := map[string]int64{}
	for _, col := range snap.Columns {
		nulls[col.Name] = 0
	}
	for _, rec := range records {
		for _, col := range snap.Columns {
			if v, ok := rec[col.Name]; !ok || v == nil {
				nulls[col.Name]++
			}
		}
	}
	return map[string]any{
		"null_counts": nulls,
		"columns":     len(snap.Columns),
	}
}

// SchemaPayload is the shape reported to external schema sinks.
type SchemaPayload struct {
	SourceKey string           `json:"source_key"`
	RunID     string           `json:"run_id"`
	Snapshot  *schema.Snapshot `json:"snapshot"`
}

// RunPayload is the shape reported to external run-metadata sinks.
type RunPayload struct {
	SourceKey   string `json:"source_key"`
	RunID       string `json:"run_id"`
	RunDate     string `json:"run_date"`
	Status      string `json:"status"`
	RecordCount int64  `json:"record_count"`
	ChunkCount  int    `json:"chunk_count"`
	DurationMs  int64  `json:"duration_ms"`
}

// LineagePayload is the shape reported to external lineage sinks.
type LineagePayload struct {
	SourceKey  string   `json:"source_key"`
	RunID      string   `json:"run_id"`
	OutputPath string   `json:"output_path"`
	Artifacts  []string `json:"artifacts"`
}

// Reporter receives fire-and-forget run side effects. Implementations
// must never fail the run; the engine does not check outcomes.
type Reporter interface {
	ReportSchema(ctx context.Context, payload SchemaPayload)
	ReportRunMetadata(ctx context.Context, payload RunPayload)
	ReportLineage(ctx context.Context, payload LineagePayload)
}

// LogReporter writes reporter payloads to the structured log. The default
// sink when no external reporter is wired.
type LogReporter struct {
	Logger *slog.Logger
}

func (r *LogReporter) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *LogReporter) ReportSchema(ctx context.Context, payload SchemaPayload) {
	r.logger().Info("schema snapshot", "source", payload.SourceKey, "runId", payload.RunID, "columns", len(payload.Snapshot.Columns))
}

func (r *LogReporter) ReportRunMetadata(ctx context.Context, payload RunPayload) {
	r.logger().Info("run metadata", "source", payload.SourceKey, "runId", payload.RunID, "status", payload.Status, "records", payload.RecordCount, "chunks", payload.ChunkCount, "durationMs", payload.DurationMs)
}

func (r *LogReporter) ReportLineage(ctx context.Context, payload LineagePayload) {
	r.logger().Info("lineage", "source", payload.SourceKey, "runId", payload.RunID, "outputPath", payload.OutputPath, "artifacts", len(payload.Artifacts))
}

// nowUTC is the single timestamp format used in emitted metadata.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
