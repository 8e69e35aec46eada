// tensor_reduce.go - Reduktionen ueber die letzte Dimension
// Enthaelt: SumRows, Mean, Variance, Argmin, Argmax
package cpu

import (
	"slices"

	"github.com/ollama/vqtok/ml"
)

// reducedShape entfernt die letzte Dimension. Skalare haben die Form (1).
func reducedShape(shape []int) []int {
	if len(shape) <= 1 {
		return []int{1}
	}
	return slices.Clone(shape[:len(shape)-1])
}

// reduce wendet fn auf jede Zeile der letzten Dimension an
func (t *Tensor) reduce(ctx ml.Context, fn func([]float32) float32) ml.Tensor {
	d := t.Dim(-1)
	a := t.floats()
	rows := len(a) / max(d, 1)

	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: reducedShape(t.shape), f32: make([]float32, rows)}
	parallelFor(ctx, rows, 256, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			out.f32[r] = fn(a[r*d : (r+1)*d])
		}
	})
	return out
}

func sum(row []float32) float64 {
	var s float64
	for _, v := range row {
		s += float64(v)
	}
	return s
}

// SumRows summiert ueber die letzte Dimension
func (t *Tensor) SumRows(ctx ml.Context) ml.Tensor {
	return t.reduce(ctx, func(row []float32) float32 {
		return float32(sum(row))
	})
}

// Mean mittelt ueber die letzte Dimension
func (t *Tensor) Mean(ctx ml.Context) ml.Tensor {
	return t.reduce(ctx, func(row []float32) float32 {
		return float32(sum(row) / float64(len(row)))
	})
}

// Variance berechnet die (biased) Varianz ueber die letzte Dimension
func (t *Tensor) Variance(ctx ml.Context) ml.Tensor {
	return t.reduce(ctx, func(row []float32) float32 {
		mean := sum(row) / float64(len(row))

		var sq float64
		for _, v := range row {
			sq += (float64(v) - mean) * (float64(v) - mean)
		}
		return float32(sq / float64(len(row)))
	})
}

// argReduce gibt pro Zeile den ersten Index zurueck fuer den better gilt
func (t *Tensor) argReduce(ctx ml.Context, better func(a, b float32) bool) ml.Tensor {
	d := t.Dim(-1)
	a := t.floats()
	rows := len(a) / max(d, 1)

	out := &Tensor{b: t.b, dtype: ml.DTypeI32, shape: reducedShape(t.shape), i32: make([]int32, rows)}
	parallelFor(ctx, rows, 256, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			row := a[r*d : (r+1)*d]
			best := 0
			for i := 1; i < len(row); i++ {
				if better(row[i], row[best]) {
					best = i
				}
			}
			out.i32[r] = int32(best)
		}
	})
	return out
}

// Argmin gibt den Index des kleinsten Werts zurueck, bei Gleichstand den niedrigsten
func (t *Tensor) Argmin(ctx ml.Context) ml.Tensor {
	return t.argReduce(ctx, func(a, b float32) bool { return a < b })
}

// Argmax gibt den Index des groessten Werts zurueck, bei Gleichstand den niedrigsten
func (t *Tensor) Argmax(ctx ml.Context) ml.Tensor {
	return t.argReduce(ctx, func(a, b float32) bool { return a > b })
}
