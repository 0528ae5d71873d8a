package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Runner groups the long-lived loops of a process. The first loop to fail
// cancels the shared context so the others can wind down.
type Runner struct {
	g   *errgroup.Group
	ctx context.Context
}

func New(ctx context.Context) *Runner {
	g, ctx := errgroup.WithContext(ctx)

	return &Runner{
		g:   g,
		ctx: ctx,
	}
}

func (r *Runner) Go(f func(ctx context.Context) error) {
	r.g.Go(func() error {
		return f(r.ctx)
	})
}

func (r *Runner) Wait() error {
	return r.g.Wait()
}
