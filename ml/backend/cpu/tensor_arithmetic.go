// tensor_arithmetic.go - Elementweise Arithmetik mit Broadcasting
// Enthaelt: Add, Sub, Mul, Div, Scale, AddScalar, unaere Funktionen (Exp, Log, Sqr, Sqrt, Round, Clamp)
package cpu

import (
	"fmt"
	"math"
	"slices"

	"github.com/ollama/vqtok/ml"
)

// broadcastShape berechnet die gemeinsame Form zweier Tensoren (rechtsbuendig)
func broadcastShape(a, b []int) []int {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := range n {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}

		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			panic(fmt.Sprintf("cpu: shapes %v and %v are not broadcastable", a, b))
		}
	}
	return out
}

// broadcastStrides gibt die Strides von shape innerhalb von out zurueck.
// Gebroadcastete Dimensionen erhalten Stride 0.
func broadcastStrides(shape, out []int) []int {
	strides := make([]int, len(out))
	stride := 1
	for i := len(out) - 1; i >= 0; i-- {
		j := len(shape) - len(out) + i
		if j < 0 {
			continue
		}
		if shape[j] != 1 {
			strides[i] = stride
		}
		stride *= shape[j]
	}
	return strides
}

// isSuffix prueft ob b die hinteren Dimensionen von a exakt abdeckt
func isSuffix(a, b []int) bool {
	if len(b) > len(a) {
		return false
	}
	return slices.Equal(a[len(a)-len(b):], b)
}

func (t *Tensor) binary(ctx ml.Context, t2 ml.Tensor, op func(a, b float32) float32) ml.Tensor {
	o := t2.(*Tensor)
	a, b := t.floats(), o.floats()

	shape := broadcastShape(t.shape, o.shape)
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: shape, f32: make([]float32, numElements(shape))}

	switch {
	case slices.Equal(t.shape, shape) && isSuffix(shape, o.shape):
		// Haeufigster Fall: gleiche Form oder Bias ueber die hinteren Dimensionen
		nb := len(b)
		parallelFor(ctx, len(out.f32), 1<<14, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				out.f32[i] = op(a[i], b[i%nb])
			}
		})
	default:
		sa := broadcastStrides(t.shape, shape)
		sb := broadcastStrides(o.shape, shape)
		parallelFor(ctx, len(out.f32), 1<<14, func(lo, hi int) {
			idx := make([]int, len(shape))
			for i := lo; i < hi; i++ {
				rem := i
				for d := len(shape) - 1; d >= 0; d-- {
					idx[d] = rem % shape[d]
					rem /= shape[d]
				}

				var ia, ib int
				for d := range shape {
					ia += idx[d] * sa[d]
					ib += idx[d] * sb[d]
				}
				out.f32[i] = op(a[ia], b[ib])
			}
		})
	}

	return out
}

// Add addiert elementweise
func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(ctx, t2, func(a, b float32) float32 { return a + b })
}

// Sub subtrahiert elementweise
func (t *Tensor) Sub(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(ctx, t2, func(a, b float32) float32 { return a - b })
}

// Mul multipliziert elementweise
func (t *Tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(ctx, t2, func(a, b float32) float32 { return a * b })
}

// Div dividiert elementweise
func (t *Tensor) Div(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(ctx, t2, func(a, b float32) float32 { return a / b })
}

// unary wendet fn auf jedes Element an
func (t *Tensor) unary(ctx ml.Context, fn func(float32) float32) ml.Tensor {
	a := t.floats()
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: slices.Clone(t.shape), f32: make([]float32, len(a))}
	parallelFor(ctx, len(a), 1<<14, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.f32[i] = fn(a[i])
		}
	})
	return out
}

// Scale multipliziert mit einem Skalar
func (t *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	f := float32(s)
	return t.unary(ctx, func(v float32) float32 { return v * f })
}

// AddScalar addiert einen Skalar
func (t *Tensor) AddScalar(ctx ml.Context, s float32) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return v + s })
}

// Exp berechnet e^x elementweise
func (t *Tensor) Exp(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log berechnet den natuerlichen Logarithmus elementweise
func (t *Tensor) Log(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqr quadriert elementweise
func (t *Tensor) Sqr(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return v * v })
}

// Sqrt zieht die Wurzel elementweise
func (t *Tensor) Sqrt(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Round rundet elementweise, bei .5 zur geraden Zahl
func (t *Tensor) Round(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return float32(math.RoundToEven(float64(v))) })
}

// Clamp begrenzt die Werte auf [lo, hi]
func (t *Tensor) Clamp(ctx ml.Context, lo, hi float32) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return min(max(v, lo), hi) })
}
