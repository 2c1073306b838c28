// Package watermark tracks the incremental cursor per source so each run
// fetches only records newer than the last successful one.
package watermark

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Watermark value types.
const (
	TypeTimestamp = "timestamp"
	TypeInteger   = "integer"
	TypeString    = "string"
)

// Key identifies one watermark ledger entry.
type Key struct {
	System string `json:"system"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s.%s.%s", k.System, k.Table, k.Column)
}

// Watermark is the persisted cursor state for one (system, table, column).
type Watermark struct {
	Key             Key    `json:"key"`
	Type            string `json:"type"`
	Value           string `json:"value"`
	LastRunID       string `json:"last_run_id,omitempty"`
	LastRunDate     string `json:"last_run_date,omitempty"`
	LastRecordCount int64  `json:"last_record_count"`
}

// IsZero reports whether the watermark has no recorded cursor yet.
func (w *Watermark) IsZero() bool {
	return w == nil || w.Value == ""
}

// Store is the pluggable watermark ledger. Save is only called after a
// fully successful run.
type Store interface {
	Get(ctx context.Context, key Key, valueType string) (*Watermark, error)
	Save(ctx context.Context, w *Watermark) error
}

// Greater compares two watermark values under the declared type. Values
// that fail to parse as the declared type fall back to string ordering.
func Greater(valueType, a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	switch valueType {
	case TypeTimestamp:
		ta, errA := time.Parse(time.RFC3339, a)
		tb, errB := time.Parse(time.RFC3339, b)
		if errA == nil && errB == nil {
			return ta.After(tb)
		}
	case TypeInteger:
		ia, errA := strconv.ParseInt(a, 10, 64)
		ib, errB := strconv.ParseInt(b, 10, 64)
		if errA == nil && errB == nil {
			return ia > ib
		}
	}
	return a > b
}

// MaxObserved scans extracted records for the highest value of the
// watermark column. Used when the extractor returns no explicit cursor.
func MaxObserved(records []map[string]any, column, valueType string) string {
	var max string
	for _, rec := range records {
		raw, ok := rec[column]
		if !ok || raw == nil {
			continue
		}
		val := formatValue(raw)
		if val == "" {
			continue
		}
		if max == "" || Greater(valueType, val, max) {
			max = val
		}
	}
	return max
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
