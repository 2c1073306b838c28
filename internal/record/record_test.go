package record

import "testing"

func TestColumns_Sorted(t *testing.T) {
	rec := Record{"zeta": 1, "alpha": 2, "mid": 3}
	cols := rec.Columns()
	want := []string{"alpha", "mid", "zeta"}
	for i, col := range want {
		if cols[i] != col {
			t.Errorf("column %d: expected %s, got %s", i, col, cols[i])
		}
	}
}

func TestEstimateSize_GrowsWithContent(t *testing.T) {
	small := Record{"id": 1}
	large := Record{"id": 1, "payload": string(make([]byte, 1024))}
	if EstimateSize(large) <= EstimateSize(small) {
		t.Error("larger record should estimate larger")
	}
	if EstimateSize(small) <= 0 {
		t.Error("estimate should be positive")
	}
}

func TestEstimateBatchSize(t *testing.T) {
	records := []Record{{"id": 1}, {"id": 2}}
	total := EstimateBatchSize(records)
	sum := int64(EstimateSize(records[0]) + EstimateSize(records[1]))
	if total != sum {
		t.Errorf("batch estimate %d should equal sum of members %d", total, sum)
	}
}
