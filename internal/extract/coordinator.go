package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// JobOutcome pairs a job's result with its terminal error, one per
// submitted job in submission order.
type JobOutcome struct {
	Result *Result
	Err    error
}

// Coordinator fans a batch of jobs across a bounded worker pool. Jobs
// are isolated: one job's failure or panic never stops its siblings.
type Coordinator struct {
	MaxWorkers int
	Logger     *slog.Logger
}

// RunAll executes every job and returns one outcome per input, in input
// order. It only returns an aggregate error when at least one job failed.
func (c *Coordinator) RunAll(ctx context.Context, jobs []*Job) ([]JobOutcome, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := c.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	outcomes := make([]JobOutcome, len(jobs))
	tasks := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				outcomes[i] = c.safeRun(ctx, jobs[i])
			}
		}()
	}
	for i := range jobs {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		logger.Error("batch finished with failures", "total", len(jobs), "failed", failed)
		return outcomes, fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	logger.Info("batch finished", "total", len(jobs))
	return outcomes, nil
}

// safeRun converts a panicking job into a failed outcome so the worker
// keeps draining its queue.
func (c *Coordinator) safeRun(ctx context.Context, job *Job) (out JobOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("job %s panicked: %v", job.Run.Job.Name, r)
		}
	}()
	out.Result, out.Err = job.Execute(ctx)
	return out
}
