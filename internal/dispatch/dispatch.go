package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Result pairs an input item with the error its operation returned.
type Result[T any] struct {
	Item T
	Err  error
}

// Run fans fn out over items with at most parallelism concurrent
// calls, waits for every call to finish, and returns one Result per
// item in the same order items was given in. A context cancellation
// surfaces as the Err for any item that hadn't yet acquired a slot.
func Run[T any](ctx context.Context, parallelism int, items []T, fn func(ctx context.Context, item T) error) []Result[T] {
	if parallelism <= 0 {
		parallelism = 1
	}

	sem := semaphore.NewWeighted(int64(parallelism))
	results := make([]Result[T], len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result[T]{Item: item, Err: err}
			continue
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = Result[T]{Item: item, Err: fn(ctx, item)}
		}(i, item)
	}
	wg.Wait()

	return results
}

// Errors returns the non-nil errors out of a Result slice, preserving
// order but dropping successes.
func Errors[T any](results []Result[T]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
