// Package chunk splits record batches into bounded chunks for writing.
package chunk

import (
	"github.com/lakeland/bronze-core/internal/record"
)

// Limits bounds a single chunk by row count and/or estimated byte size.
// A zero value means the dimension is unbounded.
type Limits struct {
	MaxRows  int
	MaxBytes int64
}

// Split partitions records into ordered chunks honouring the limits.
//
// With no limits the whole batch is one chunk (empty input yields nil).
// Row-only limits slice at fixed size. When a byte limit is set, records
// are greedily packed: a new chunk starts before a record that would push
// the current chunk over either limit, but a chunk always admits at least
// one record even if that record alone exceeds MaxBytes.
func Split(records []record.Record, limits Limits) [][]record.Record {
	if len(records) == 0 {
		return nil
	}
	if limits.MaxRows <= 0 && limits.MaxBytes <= 0 {
		return [][]record.Record{records}
	}
	if limits.MaxBytes <= 0 {
		return splitByRows(records, limits.MaxRows)
	}
	return splitBySize(records, limits)
}

func splitByRows(records []record.Record, maxRows int) [][]record.Record {
	chunks := make([][]record.Record, 0, (len(records)+maxRows-1)/maxRows)
	for start := 0; start < len(records); start += maxRows {
		end := start + maxRows
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

func splitBySize(records []record.Record, limits Limits) [][]record.Record {
	var chunks [][]record.Record
	var current []record.Record
	var currentBytes int64

	for _, rec := range records {
		size := int64(record.EstimateSize(rec))
		overBytes := currentBytes+size > limits.MaxBytes
		overRows := limits.MaxRows > 0 && len(current) >= limits.MaxRows
		if len(current) > 0 && (overBytes || overRows) {
			chunks = append(chunks, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, rec)
		currentBytes += size
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
