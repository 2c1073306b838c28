package extract

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lakeland/bronze-core/internal/record"
)

// ChunkProcessor drives the ChunkWriter over a batch of chunks, in
// parallel when configured. Indices are assigned before submission, so
// output names never depend on completion order.
type ChunkProcessor struct {
	Writer  *ChunkWriter
	Workers int
	Logger  *slog.Logger
}

// Process writes every chunk and returns the produced file names in chunk
// order. The first write failure aborts the call; files already written by
// other workers stay on disk for the orchestrator's cleanup to handle.
func (p *ChunkProcessor) Process(ctx context.Context, chunks [][]record.Record) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if p.Workers <= 1 || len(chunks) == 1 {
		var files []string
		for i, chunk := range chunks {
			names, err := p.Writer.Write(ctx, i+1, chunk)
			if err != nil {
				return nil, err
			}
			files = append(files, names...)
		}
		return files, nil
	}

	workers := p.Workers
	if workers > len(chunks) {
		workers = len(chunks)
	}
	logger.Info("writing chunks in parallel", "chunks", len(chunks), "workers", workers)

	type task struct {
		index int
		chunk []record.Record
	}
	tasks := make(chan task)
	perChunk := make([][]string, len(chunks))
	var failed atomic.Bool
	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				// Fail fast: don't start new chunks after an error,
				// but a write in flight always runs to completion.
				if failed.Load() {
					continue
				}
				names, err := p.Writer.Write(ctx, t.index+1, t.chunk)
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					failed.Store(true)
					continue
				}
				perChunk[t.index] = names
			}
		}()
	}

	for i, chunk := range chunks {
		tasks <- task{index: i, chunk: chunk}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	var files []string
	for _, names := range perChunk {
		files = append(files, names...)
	}
	return files, nil
}
