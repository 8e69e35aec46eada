// context.go - Context-Struktur und Tensor-Konstruktoren
// Enthaelt: Context struct, Empty(), Zeros(), FromFloats(), FromInts(), Arange(), Forward(), Compute()
package cpu

import (
	"fmt"
	"runtime"
	"slices"

	"github.com/ollama/vqtok/ml"
)

// Context ist ein eager Berechnungskontext. Forward und Compute sind
// Synchronisationspunkte ohne eigene Arbeit.
type Context struct {
	b *Backend

	// threads ist die Anzahl paralleler Worker
	threads int
}

// NewContext erstellt einen Kontext ohne Backend, z.B. fuer Tests
func NewContext(threads int) *Context {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	return &Context{threads: threads}
}

// Input gibt einen Kontext fuer Eingabe-Tensoren zurueck
func (c *Context) Input() ml.Context {
	return c
}

// Forward registriert Tensoren zur Berechnung
func (c *Context) Forward(tensors ...ml.Tensor) ml.Context {
	return c
}

// Compute wertet die Tensoren aus. Alle Operationen sind bereits berechnet.
func (c *Context) Compute(tensors ...ml.Tensor) {}

// Close gibt den Kontext frei
func (c *Context) Close() {}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("cpu: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

func (c *Context) newTensor(dtype ml.DType, shape []int) *Tensor {
	t := &Tensor{b: c.b, dtype: dtype, shape: slices.Clone(shape)}
	switch dtype {
	case ml.DTypeF32:
		t.f32 = make([]float32, numElements(shape))
	case ml.DTypeI32:
		t.i32 = make([]int32, numElements(shape))
	default:
		panic(fmt.Sprintf("cpu: unsupported dtype %v", dtype))
	}
	return t
}

// Empty erstellt einen Tensor. Der Inhalt ist mit Nullen initialisiert.
func (c *Context) Empty(dtype ml.DType, shape ...int) ml.Tensor {
	return c.newTensor(dtype, shape)
}

// Zeros erstellt einen mit Nullen gefuellten Tensor
func (c *Context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	return c.newTensor(dtype, shape)
}

// FromFloats erstellt einen F32-Tensor aus einem Slice
func (c *Context) FromFloats(s []float32, shape ...int) ml.Tensor {
	if n := numElements(shape); n != len(s) {
		panic(fmt.Sprintf("cpu: shape %v needs %d values, got %d", shape, n, len(s)))
	}

	return &Tensor{b: c.b, dtype: ml.DTypeF32, shape: slices.Clone(shape), f32: slices.Clone(s)}
}

// FromInts erstellt einen I32-Tensor aus einem Slice
func (c *Context) FromInts(s []int32, shape ...int) ml.Tensor {
	if n := numElements(shape); n != len(s) {
		panic(fmt.Sprintf("cpu: shape %v needs %d values, got %d", shape, n, len(s)))
	}

	return &Tensor{b: c.b, dtype: ml.DTypeI32, shape: slices.Clone(shape), i32: slices.Clone(s)}
}

// Arange erstellt einen 1D-Tensor mit Werten in [start, stop)
func (c *Context) Arange(start, stop, step float32, dtype ml.DType) ml.Tensor {
	if step == 0 {
		panic("cpu: arange step must not be zero")
	}

	var fs []float32
	for v := start; (step > 0 && v < stop) || (step < 0 && v > stop); v += step {
		fs = append(fs, v)
	}

	t := c.FromFloats(fs, len(fs))
	if dtype == ml.DTypeI32 {
		return t.Cast(c, ml.DTypeI32)
	}
	return t
}
