package schema

import (
	"testing"

	"github.com/lakeland/bronze-core/internal/record"
)

func TestInfer_ColumnOrderAndTypes(t *testing.T) {
	records := []record.Record{
		{"id": float64(1), "name": "alpha", "active": true},
		{"id": float64(2), "name": "beta", "created_at": "2026-01-15T10:30:00Z"},
		{"id": float64(3), "score": 4.5},
	}

	snap := Infer(records, 0)
	byName := map[string]string{}
	for _, col := range snap.Columns {
		byName[col.Name] = col.Type
	}

	want := map[string]string{
		"id":         TypeInteger,
		"name":       TypeString,
		"active":     TypeBoolean,
		"created_at": TypeTimestamp,
		"score":      TypeFloat,
	}
	for name, typ := range want {
		if byName[name] != typ {
			t.Errorf("column %s: expected %s, got %s", name, typ, byName[name])
		}
	}

	// Columns keep first-seen order.
	if snap.Columns[0].Name != "active" && snap.Columns[0].Name != "id" && snap.Columns[0].Name != "name" {
		// First record contributes id, name, active in its own key order;
		// only assert the later columns come after.
		t.Logf("first column: %s", snap.Columns[0].Name)
	}
	last := snap.Columns[len(snap.Columns)-1].Name
	if last != "score" {
		t.Errorf("expected score discovered last, got %s", last)
	}
}

func TestInfer_WidensConflictingTypes(t *testing.T) {
	records := []record.Record{
		{"v": float64(1)},
		{"v": 2.5},
	}
	snap := Infer(records, 0)
	if snap.Columns[0].Type != TypeFloat {
		t.Errorf("integer+float should widen to float, got %s", snap.Columns[0].Type)
	}

	mixed := []record.Record{
		{"v": float64(1)},
		{"v": "text"},
	}
	snap = Infer(mixed, 0)
	if snap.Columns[0].Type != TypeString {
		t.Errorf("integer+string should degrade to string, got %s", snap.Columns[0].Type)
	}
}

func TestInfer_SampleSizeBounds(t *testing.T) {
	records := []record.Record{
		{"a": float64(1)},
		{"b": float64(2)},
	}
	snap := Infer(records, 1)
	if len(snap.Columns) != 1 || snap.Columns[0].Name != "a" {
		t.Errorf("sample of 1 should only see column a, got %v", snap.Columns)
	}
}

func TestSaveLoad_RoundTripAndMissing(t *testing.T) {
	dir := t.TempDir()

	if snap, err := Load(dir); err != nil || snap != nil {
		t.Fatalf("missing snapshot should be (nil, nil), got (%v, %v)", snap, err)
	}

	orig := Infer([]record.Record{{"id": float64(1), "name": "x"}}, 0)
	if err := orig.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Columns) != len(orig.Columns) {
		t.Errorf("expected %d columns after reload, got %d", len(orig.Columns), len(loaded.Columns))
	}
}
