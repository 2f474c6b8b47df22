package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds how many functions run at once.
type WorkerPool struct {
	workerCount int
}

func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{workerCount: workerCount}
}

// Run executes all functions and returns the first error.
// The first failure cancels work that has not started yet.
func (wp *WorkerPool) Run(ctx context.Context, functions ...func(ctx context.Context) error) error {
	if len(functions) == 0 {
		return nil
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(wp.workerCount)

	for _, fn := range functions {
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return fn(groupCtx)
		})
	}

	return g.Wait()
}

// RunAll executes every function regardless of failures elsewhere.
// The result has one slot per function, nil where it succeeded.
func (wp *WorkerPool) RunAll(ctx context.Context, functions ...func(ctx context.Context) error) []error {
	errs := make([]error, len(functions))
	if len(functions) == 0 {
		return errs
	}

	var g errgroup.Group
	g.SetLimit(wp.workerCount)

	for i, fn := range functions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx)
			return nil
		})
	}

	_ = g.Wait()
	return errs
}

// FirstError returns the first non-nil error in errs.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
