package jobs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunConcurrently runs tasks with at most limit of them at a time.
// First error cancels the context of the others and is returned.
func RunConcurrently(ctx context.Context, limit int, tasks []func(context.Context) error) error {
	group, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}

	for _, task := range tasks {
		group.Go(func() error {
			return task(ctx)
		})
	}

	return group.Wait()
}
