// parallel.go - Parallele Ausfuehrung ueber disjunkte Bereiche
// Enthaelt: parallelFor()
package cpu

import (
	"github.com/ollama/vqtok/ml"
	"golang.org/x/sync/errgroup"
)

// threadsOf gibt die Worker-Anzahl eines Kontexts zurueck
func threadsOf(ctx ml.Context) int {
	if c, ok := ctx.(*Context); ok && c.threads > 0 {
		return c.threads
	}
	return 1
}

// parallelFor teilt [0, n) in zusammenhaengende Bloecke mit mindestens grain
// Elementen auf. Jeder Block schreibt nur seine eigenen Ausgaben, das
// Ergebnis haengt daher nicht von der Anzahl der Worker ab.
func parallelFor(ctx ml.Context, n, grain int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}

	threads := threadsOf(ctx)
	if threads <= 1 || n <= grain {
		fn(0, n)
		return
	}

	chunks := min(threads, (n+grain-1)/grain)
	size := (n + chunks - 1) / chunks

	var g errgroup.Group
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}

	_ = g.Wait()
}
