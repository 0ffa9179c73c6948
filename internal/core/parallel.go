// internal/core/parallel.go
package core

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelFor runs fn(0..n-1) with at most workers goroutines. workers == 0 uses
// GOMAXPROCS, workers == 1 runs inline, a negative value removes the limit. The first
// error is returned after all started calls finish.
func parallelFor(workers, n int, fn func(i int) error) error {
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if n <= 1 || workers == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return fn(i)
		})
	}
	return g.Wait()
}
