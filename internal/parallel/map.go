// Package parallel runs a mapping function over an input sequence with a
// bounded number of workers.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map consumes seq, applies mapFunc to every element with at most limit
// workers and yields (result, error) pairs in completion order. A canceled
// context ends the processing.
//
//	for out, err := range parallel.Map(ctx, 4, files, scanFile) {}
func Map[E, D any](parentCtx context.Context, limit int, seq iter.Seq[E], mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	parentCtx, cancel := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	g.SetLimit(limit + 1)

	mapped := make(chan result[D], limit)

	return func(yield func(D, error) bool) {
		defer cancel()

		g.Go(func() error {
			for entry := range seq {
				g.Go(func() error {
					d, err := mapFunc(gctx, entry)
					select {
					case <-gctx.Done():
						return gctx.Err()
					case mapped <- result[D]{d: d, e: err}:
						return nil
					}
				})
			}
			return nil
		})

		go func() {
			_ = g.Wait()
			close(mapped)
		}()

		for r := range mapped {
			if parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
