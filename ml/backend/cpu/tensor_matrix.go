// tensor_matrix.go - Matrix-Operationen
// Enthaelt: Mulmat, Conv2D (im2col + GEMM), Rows, OneHot
package cpu

import (
	"fmt"
	"slices"

	"github.com/ollama/vqtok/ml"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// im2colBudget begrenzt die Groesse einer im2col-Matrix in Elementen
const im2colBudget = 1 << 20

// gemm berechnet c = a * b fuer Zeilen-Major Matrizen
func gemm(m, k, n int, a, b, c []float32) {
	if m == 0 || n == 0 {
		return
	}

	if k == 0 {
		clear(c[:m*n])
		return
	}

	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// Mulmat multipliziert t (..., K) mit t2 (K, N) und liefert (..., N)
func (t *Tensor) Mulmat(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	o := t2.(*Tensor)
	if len(o.shape) != 2 || len(t.shape) == 0 || t.shape[len(t.shape)-1] != o.shape[0] {
		panic(fmt.Sprintf("cpu: cannot multiply %v by %v", t.shape, o.shape))
	}

	k, n := o.shape[0], o.shape[1]
	m := t.numElements() / max(k, 1)

	shape := append(slices.Clone(t.shape[:len(t.shape)-1]), n)
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: shape, f32: make([]float32, m*n)}

	a, b := t.floats(), o.floats()
	parallelFor(ctx, m, 64, func(lo, hi int) {
		gemm(hi-lo, k, n, a[lo*k:hi*k], b, out.f32[lo*n:hi*n])
	})

	return out
}

// Conv2D faltet einen NHWC-Tensor mit einem HWIO-Kernel
func (t *Tensor) Conv2D(ctx ml.Context, weight ml.Tensor, s0, s1, p0, p1, d0, d1 int) ml.Tensor {
	w := weight.(*Tensor)
	if len(t.shape) != 4 || len(w.shape) != 4 || t.shape[3] != w.shape[2] {
		panic(fmt.Sprintf("cpu: conv2d input %v incompatible with kernel %v", t.shape, w.shape))
	}

	bs, h, wd, c := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	kh, kw, co := w.shape[0], w.shape[1], w.shape[3]

	oh := (h+2*p0-d0*(kh-1)-1)/s0 + 1
	ow := (wd+2*p1-d1*(kw-1)-1)/s1 + 1
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("cpu: conv2d output would be empty for input %v and kernel %v", t.shape, w.shape))
	}

	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: []int{bs, oh, ow, co}, f32: make([]float32, bs*oh*ow*co)}

	k := kh * kw * c
	src, kernel := t.floats(), w.floats()

	// Eine Aufgabe ist eine Ausgabezeile (b, oh)
	per := max(1, im2colBudget/(ow*k))
	parallelFor(ctx, bs*oh, 1, func(lo, hi int) {
		col := make([]float32, min(per, hi-lo)*ow*k)
		for r := lo; r < hi; r += per {
			n := min(per, hi-r)
			for j := range n {
				b, y := (r+j)/oh, (r+j)%oh
				for x := range ow {
					base := (j*ow + x) * k
					for ky := range kh {
						iy := y*s0 - p0 + ky*d0
						for kx := range kw {
							ix := x*s1 - p1 + kx*d1
							dst := col[base+(ky*kw+kx)*c : base+(ky*kw+kx+1)*c]
							if iy < 0 || iy >= h || ix < 0 || ix >= wd {
								clear(dst)
								continue
							}
							copy(dst, src[((b*h+iy)*wd+ix)*c:])
						}
					}
				}
			}

			gemm(n*ow, k, co, col[:n*ow*k], kernel, out.f32[r*ow*co:(r+n)*ow*co])
		}
	})

	return out
}

// Rows sammelt Zeilen eines 2D-Tensors anhand von I32-Indizes.
// Das Ergebnis hat die Form ids.Shape() + (D).
func (t *Tensor) Rows(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	ids := t2.(*Tensor)
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("cpu: rows needs a 2D table, got %v", t.shape))
	}

	n, d := t.shape[0], t.shape[1]
	idx := ids.Ints()
	table := t.floats()

	shape := append(slices.Clone(ids.shape), d)
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: shape, f32: make([]float32, len(idx)*d)}
	for i, id := range idx {
		if id < 0 || int(id) >= n {
			panic(fmt.Sprintf("cpu: row index %d out of range [0, %d)", id, n))
		}
		copy(out.f32[i*d:(i+1)*d], table[int(id)*d:])
	}

	return out
}

// OneHot erweitert einen Index-Tensor (...) zu (..., n)
func (t *Tensor) OneHot(ctx ml.Context, n int) ml.Tensor {
	idx := t.Ints()

	shape := append(slices.Clone(t.shape), n)
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: shape, f32: make([]float32, len(idx)*n)}
	for i, id := range idx {
		if id < 0 || int(id) >= n {
			panic(fmt.Sprintf("cpu: one-hot index %d out of range [0, %d)", id, n))
		}
		out.f32[i*n+int(id)] = 1
	}

	return out
}
