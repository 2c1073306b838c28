// Package schema infers per-run column schemas and gates evolution between
// runs under a configured policy.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lakeland/bronze-core/internal/record"
)

// SnapshotFileName is the schema snapshot persisted per successful run.
const SnapshotFileName = "_schema.json"

// Column types inferred from record values.
const (
	TypeBoolean   = "boolean"
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeString    = "string"
	TypeTimestamp = "timestamp"
	TypeUnknown   = "unknown"
)

// Column is one inferred (name, type) pair.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Snapshot is the ordered column set inferred from a record batch.
type Snapshot struct {
	Timestamp string   `json:"timestamp"`
	Columns   []Column `json:"columns"`
}

// Infer unions keys and types across up to sampleSize records, preserving
// first-seen column order. Conflicting types widen: integer observed with
// float becomes float, anything else degrades to string.
func Infer(records []record.Record, sampleSize int) *Snapshot {
	snap := &Snapshot{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if len(records) == 0 {
		return snap
	}
	if sampleSize <= 0 || sampleSize > len(records) {
		sampleSize = len(records)
	}

	index := map[string]int{}
	for _, rec := range records[:sampleSize] {
		for _, name := range rec.Columns() {
			inferred := inferType(rec[name])
			pos, seen := index[name]
			if !seen {
				index[name] = len(snap.Columns)
				snap.Columns = append(snap.Columns, Column{Name: name, Type: inferred})
				continue
			}
			snap.Columns[pos].Type = widen(snap.Columns[pos].Type, inferred)
		}
	}
	return snap
}

func inferType(v any) string {
	switch t := v.(type) {
	case nil:
		return TypeUnknown
	case bool:
		return TypeBoolean
	case int, int32, int64:
		return TypeInteger
	case float32:
		return TypeFloat
	case float64:
		// JSON numbers decode as float64; keep whole values integer.
		if t == float64(int64(t)) {
			return TypeInteger
		}
		return TypeFloat
	case time.Time:
		return TypeTimestamp
	case string:
		if _, err := time.Parse(time.RFC3339, t); err == nil {
			return TypeTimestamp
		}
		return TypeString
	default:
		return TypeString
	}
}

func widen(current, observed string) string {
	if current == observed || observed == TypeUnknown {
		return current
	}
	if current == TypeUnknown {
		return observed
	}
	if (current == TypeInteger && observed == TypeFloat) || (current == TypeFloat && observed == TypeInteger) {
		return TypeFloat
	}
	return TypeString
}

// Save persists the snapshot under dir for the next run's comparison.
func (s *Snapshot) Save(dir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema snapshot: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, SnapshotFileName), data, 0o644)
}

// Load reads a prior snapshot from dir; a missing file returns (nil, nil)
// because a first run has no previous schema.
func Load(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode schema snapshot: %w", err)
	}
	return &snap, nil
}
