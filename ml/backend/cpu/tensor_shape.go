// tensor_shape.go - Form-Operationen
// Enthaelt: Reshape, Permute, Pad
package cpu

import (
	"fmt"
	"slices"

	"github.com/ollama/vqtok/ml"
)

// Reshape aendert die Form ohne die Daten zu kopieren. Eine Dimension darf -1 sein.
func (t *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	shape = slices.Clone(shape)
	n := t.numElements()

	infer, known := -1, 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic(fmt.Sprintf("cpu: reshape %v has more than one -1", shape))
			}
			infer = i
			continue
		}
		known *= d
	}

	if infer >= 0 {
		if known == 0 || n%known != 0 {
			panic(fmt.Sprintf("cpu: cannot reshape %v to %v", t.shape, shape))
		}
		shape[infer] = n / known
	}

	if numElements(shape) != n {
		panic(fmt.Sprintf("cpu: cannot reshape %v to %v", t.shape, shape))
	}

	r := *t
	r.shape = shape
	return &r
}

// Permute vertauscht die Dimensionen gemaess order und kopiert die Daten
func (t *Tensor) Permute(ctx ml.Context, order ...int) ml.Tensor {
	rank := len(t.shape)
	if len(order) != rank {
		panic(fmt.Sprintf("cpu: permute order %v does not match rank %d", order, rank))
	}

	seen := make([]bool, rank)
	shape := make([]int, rank)
	for i, o := range order {
		if o < 0 || o >= rank || seen[o] {
			panic(fmt.Sprintf("cpu: invalid permute order %v", order))
		}
		seen[o] = true
		shape[i] = t.shape[o]
	}

	// Strides der Eingabe in der Reihenfolge der Ausgabe
	inStrides := make([]int, rank)
	stride := 1
	for d := rank - 1; d >= 0; d-- {
		inStrides[d] = stride
		stride *= t.shape[d]
	}
	strides := make([]int, rank)
	for i, o := range order {
		strides[i] = inStrides[o]
	}

	out := &Tensor{b: t.b, dtype: t.dtype, shape: shape}
	n := t.numElements()

	index := func(i int) int {
		var src int
		for d := rank - 1; d >= 0; d-- {
			src += (i % shape[d]) * strides[d]
			i /= shape[d]
		}
		return src
	}

	switch t.dtype {
	case ml.DTypeI32:
		out.i32 = make([]int32, n)
		for i := range n {
			out.i32[i] = t.i32[index(i)]
		}
	default:
		out.f32 = make([]float32, n)
		parallelFor(ctx, n, 1<<14, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				out.f32[i] = t.f32[index(i)]
			}
		})
	}

	return out
}

// Pad haengt shape[i] Nullen an das Ende der Dimension i an
func (t *Tensor) Pad(ctx ml.Context, shape ...int) ml.Tensor {
	if len(shape) > len(t.shape) {
		panic(fmt.Sprintf("cpu: pad %v exceeds rank of %v", shape, t.shape))
	}

	outShape := slices.Clone(t.shape)
	for i, p := range shape {
		if p < 0 {
			panic(fmt.Sprintf("cpu: negative padding %v", shape))
		}
		outShape[i] += p
	}

	a := t.floats()
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: outShape, f32: make([]float32, numElements(outShape))}
	if len(a) == 0 {
		return out
	}

	// Zeilen der letzten Dimension werden am Stueck kopiert
	rank := len(t.shape)
	last := t.shape[rank-1]
	idx := make([]int, rank-1)
	for row := 0; row < len(a)/last; row++ {
		rem := row
		for d := rank - 2; d >= 0; d-- {
			idx[d] = rem % t.shape[d]
			rem /= t.shape[d]
		}

		var dst int
		for d := range rank - 1 {
			dst = dst*outShape[d] + idx[d]
		}
		copy(out.f32[dst*outShape[rank-1]:], a[row*last:(row+1)*last])
	}

	return out
}
