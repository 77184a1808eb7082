// Package async runs named report queries concurrently on a bounded set of
// workers.
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task[T any] struct {
	Name    string
	Execute func(ctx context.Context) (T, error)
}

type Result[T any] struct {
	Name string
	Data T
	Err  error
}

type Pool[T any] struct {
	workerCount int
}

func NewPool[T any](workerCount int) *Pool[T] {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool[T]{workerCount: workerCount}
}

// Execute runs every task and returns results keyed by task name. Tasks
// not finished when ctx is done are reported with ctx.Err(). A panicking
// task becomes an error result.
func (p *Pool[T]) Execute(ctx context.Context, tasks []Task[T]) map[string]Result[T] {
	queue := make(chan Task[T])
	results := make(chan Result[T], len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				results <- run(ctx, task)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case queue <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]Result[T], len(tasks))
	for r := range results {
		out[r.Name] = r
	}
	for _, task := range tasks {
		if _, ok := out[task.Name]; !ok {
			out[task.Name] = Result[T]{Name: task.Name, Err: ctx.Err()}
		}
	}
	return out
}

func run[T any](ctx context.Context, task Task[T]) (res Result[T]) {
	res.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Data, res.Err = task.Execute(ctx)
	return res
}
