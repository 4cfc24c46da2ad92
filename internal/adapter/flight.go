package adapter

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// shared runs fn once for every concurrent caller of key. fn keeps the first
// caller's deadline but not its cancellation, so a caller that gives up does
// not fail the others; each caller stops waiting when its own ctx is done.
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := detach(ctx)
		defer cancel()
		return fn(runCtx)
	})
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(runCtx, deadline)
	}
	return runCtx, func() {}
}
