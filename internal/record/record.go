// Package record defines the loose record shape flowing through the engine.
package record

import (
	"encoding/json"
	"sort"
)

// Record is a single extracted row keyed by column name.
type Record map[string]any

// Columns returns the record's keys in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// EstimateSize returns the JSON-encoded byte size of the record.
// Staged artifacts are JSON, so the JSON size is the size that matters
// for chunk packing.
func EstimateSize(r Record) int {
	data, err := json.Marshal(r)
	if err != nil {
		return 0
	}
	return len(data)
}

// EstimateBatchSize sums the estimated sizes of all records.
func EstimateBatchSize(records []Record) int64 {
	var total int64
	for _, r := range records {
		total += int64(EstimateSize(r))
	}
	return total
}
