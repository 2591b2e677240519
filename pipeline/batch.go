package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/paletteops/tokenflow/token"
)

// ExecuteBatch runs the tasks concurrently, at most maxParallel at a
// time, and returns one result per task in input order. A maxParallel
// of zero or less means no cap beyond the agent pool's own ceiling.
// Context cancellation stops the launch of further tasks; tasks never
// started are returned as failed results so the slice stays aligned
// with the input.
func (c *Coordinator) ExecuteBatch(ctx context.Context, tasks []token.PipelineTask, maxParallel int) []token.PipelineResult {
	results := make([]token.PipelineResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	limit := int64(maxParallel)
	if limit <= 0 {
		limit = int64(len(tasks))
	}
	sem := semaphore.NewWeighted(limit)

	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = token.PipelineResult{
				TaskID:       task.ID,
				StageResults: map[token.Stage]token.StageResult{},
				Errors:       []string{"batch cancelled before execution: " + err.Error()},
			}
			continue
		}
		wg.Add(1)
		go func(i int, task token.PipelineTask) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = c.Execute(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return results
}
