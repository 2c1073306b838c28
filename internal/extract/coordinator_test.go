package extract

import (
	"context"
	"fmt"
	"testing"

	"github.com/lakeland/bronze-core/internal/config"
	"github.com/lakeland/bronze-core/internal/record"
)

// brokenExtractor fails every fetch.
type brokenExtractor struct{}

func (brokenExtractor) Fetch(ctx context.Context, run *config.RunContext, since string) ([]record.Record, string, error) {
	return nil, "", fmt.Errorf("source unavailable")
}

func TestRunAll_IndependentOutcomesInInputOrder(t *testing.T) {
	jobs := []*Job{
		newJobFixture(t, snapshotJobConfig(), &StaticExtractor{Records: testRecords(10)}).job,
		newJobFixture(t, snapshotJobConfig(), brokenExtractor{}).job,
		newJobFixture(t, snapshotJobConfig(), &StaticExtractor{Records: testRecords(20)}).job,
	}

	c := &Coordinator{MaxWorkers: 2}
	outcomes, err := c.RunAll(context.Background(), jobs)
	if err == nil {
		t.Fatal("expected aggregate error when one job fails")
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	if outcomes[0].Err != nil {
		t.Errorf("job 0 should succeed: %v", outcomes[0].Err)
	}
	if outcomes[0].Result.RecordCount != 10 {
		t.Errorf("job 0: expected 10 records, got %d", outcomes[0].Result.RecordCount)
	}
	if outcomes[1].Err == nil {
		t.Error("job 1 should fail")
	}
	if outcomes[2].Err != nil {
		t.Errorf("job 2 must not be affected by job 1's failure: %v", outcomes[2].Err)
	}
	if outcomes[2].Result.RecordCount != 20 {
		t.Errorf("job 2: expected 20 records, got %d", outcomes[2].Result.RecordCount)
	}
}

func TestRunAll_NormalizesWorkerCount(t *testing.T) {
	jobs := []*Job{
		newJobFixture(t, snapshotJobConfig(), &StaticExtractor{Records: testRecords(5)}).job,
	}
	c := &Coordinator{MaxWorkers: 0}
	outcomes, err := c.RunAll(context.Background(), jobs)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Errorf("unexpected outcomes: %+v", outcomes)
	}
}

func TestRunAll_Empty(t *testing.T) {
	c := &Coordinator{MaxWorkers: 4}
	outcomes, err := c.RunAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if outcomes != nil {
		t.Errorf("expected nil outcomes for empty input, got %v", outcomes)
	}
}
