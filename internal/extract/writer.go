package extract

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lakeland/bronze-core/internal/record"
	"github.com/lakeland/bronze-core/internal/schema"
	"github.com/lakeland/bronze-core/pkg/storage"
)

// parquetConcurrency is the parquet writer's internal marshal parallelism.
const parquetConcurrency = 4

// ChunkWriter serializes one chunk per enabled format and optionally
// uploads each produced file through the storage plan.
type ChunkWriter struct {
	OutputDir    string
	FilePrefix   string
	WriteCSV     bool
	WriteParquet bool
	Compression  string // "gzip" compresses CSV output
	Schema       *schema.Snapshot
	Backend      storage.Backend // nil disables uploads
	RemoteDir    string
}

// Write serializes chunk at 1-based index to every enabled format.
// File names are fixed by index, so output naming is deterministic no
// matter which worker finishes first. Returns names relative to OutputDir.
func (w *ChunkWriter) Write(ctx context.Context, index int, records []record.Record) ([]string, error) {
	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var files []string
	if w.WriteCSV {
		name, err := w.writeCSV(index, records)
		if err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	if w.WriteParquet {
		name, err := w.writeParquet(index, records)
		if err != nil {
			return nil, err
		}
		files = append(files, name)
	}

	if w.Backend != nil {
		for _, name := range files {
			local := filepath.Join(w.OutputDir, name)
			remote := path.Join(w.RemoteDir, name)
			if err := w.Backend.Upload(ctx, local, remote); err != nil {
				return nil, fmt.Errorf("upload %s: %w", name, err)
			}
		}
	}
	return files, nil
}

func (w *ChunkWriter) partName(index int, ext string) string {
	return fmt.Sprintf("%s-part-%04d.%s", w.FilePrefix, index, ext)
}

func (w *ChunkWriter) writeCSV(index int, records []record.Record) (string, error) {
	ext := "csv"
	if w.Compression == "gzip" {
		ext = "csv.gz"
	}
	name := w.partName(index, ext)

	f, err := os.Create(filepath.Join(w.OutputDir, name))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()

	var cw *csv.Writer
	var gz *gzip.Writer
	if w.Compression == "gzip" {
		gz = gzip.NewWriter(f)
		cw = csv.NewWriter(gz)
	} else {
		cw = csv.NewWriter(f)
	}

	header := make([]string, len(w.Schema.Columns))
	for i, col := range w.Schema.Columns {
		header[i] = col.Name
	}
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(header))
	for _, rec := range records {
		for i, col := range header {
			row[i] = formatCSVValue(rec[col])
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return "", fmt.Errorf("close gzip: %w", err)
		}
	}
	return name, nil
}

func formatCSVValue(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprint(t)
	}
}

func (w *ChunkWriter) writeParquet(index int, records []record.Record) (string, error) {
	name := w.partName(index, "parquet")
	f, err := os.Create(filepath.Join(w.OutputDir, name))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()

	pfw := writerfile.NewWriterFile(f)
	pw, err := writer.NewJSONWriter(parquetSchemaTags(w.Schema), pfw, parquetConcurrency)
	if err != nil {
		return "", fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := projectParquetRow(rec, w.Schema)
		data, mErr := json.Marshal(row)
		if mErr != nil {
			_ = pw.WriteStop()
			return "", fmt.Errorf("encode parquet row: %w", mErr)
		}
		if err := pw.Write(string(data)); err != nil {
			_ = pw.WriteStop()
			return "", fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return "", fmt.Errorf("finish parquet: %w", err)
	}
	return name, nil
}

// parquetSchemaTags builds the JSON schema definition the parquet writer
// expects, mapping inferred column types onto physical parquet types.
func parquetSchemaTags(snap *schema.Snapshot) string {
	fields := make([]map[string]string, 0, len(snap.Columns))
	for _, col := range snap.Columns {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", col.Name, parquetPhysicalType(col.Type)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetPhysicalType(colType string) string {
	switch strings.ToLower(colType) {
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeInteger:
		return "INT64"
	case schema.TypeFloat:
		return "DOUBLE"
	default:
		return "BYTE_ARRAY, convertedtype=UTF8"
	}
}

func projectParquetRow(rec record.Record, snap *schema.Snapshot) map[string]any {
	row := make(map[string]any, len(snap.Columns))
	for _, col := range snap.Columns {
		val, ok := rec[col.Name]
		if !ok || val == nil {
			row[col.Name] = nil
			continue
		}
		switch parquetPhysicalType(col.Type) {
		case "INT64":
			row[col.Name] = toInt64(val)
		case "DOUBLE":
			row[col.Name] = toFloat64(val)
		case "BOOLEAN":
			if b, ok := val.(bool); ok {
				row[col.Name] = b
			} else {
				row[col.Name] = nil
			}
		default:
			row[col.Name] = fmt.Sprint(val)
		}
	}
	return row
}

func toInt64(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return nil
	}
}

func toFloat64(v any) any {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return nil
	}
}
