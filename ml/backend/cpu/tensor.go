// tensor.go - Tensor-Struktur und Basis-Methoden
// Enthaelt: Tensor struct, Shape, Dim, Bytes, Floats, Ints, DType, Cast, Detach
package cpu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ollama/vqtok/ml"
)

// Tensor ist ein dichter Zeilen-Major Tensor im Hauptspeicher.
// Operationen veraendern ihre Eingaben nie, Daten duerfen daher geteilt werden.
type Tensor struct {
	b     *Backend
	name  string
	dtype ml.DType
	shape []int

	f32 []float32
	i32 []int32

	// constant markiert Tensoren die durch Detach entstanden sind
	constant bool
}

// LogValue gibt den Tensor als slog-Wert zurueck
func (t *Tensor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", t.name),
		slog.String("type", t.dtype.String()),
		slog.Any("shape", t.shape),
	)
}

// Dim gibt die Groesse einer Dimension zurueck
func (t *Tensor) Dim(n int) int {
	if n < 0 {
		n += len(t.shape)
	}

	if n < 0 || n >= len(t.shape) {
		return 1
	}

	return t.shape[n]
}

// Shape gibt die Form des Tensors zurueck
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// DType gibt den Datentyp zurueck
func (t *Tensor) DType() ml.DType {
	return t.dtype
}

// Bytes gibt die Tensor-Daten little-endian kodiert zurueck
func (t *Tensor) Bytes() []byte {
	var buf bytes.Buffer
	switch t.dtype {
	case ml.DTypeF32:
		buf.Grow(4 * len(t.f32))
		binary.Write(&buf, binary.LittleEndian, t.f32) //nolint:errcheck
	case ml.DTypeI32:
		buf.Grow(4 * len(t.i32))
		binary.Write(&buf, binary.LittleEndian, t.i32) //nolint:errcheck
	}
	return buf.Bytes()
}

// Floats gibt eine Kopie der Daten als float32 zurueck
func (t *Tensor) Floats() []float32 {
	switch t.dtype {
	case ml.DTypeF32:
		return slices.Clone(t.f32)
	case ml.DTypeI32:
		fs := make([]float32, len(t.i32))
		for i, v := range t.i32 {
			fs[i] = float32(v)
		}
		return fs
	default:
		return nil
	}
}

// Ints gibt eine Kopie der Daten als int32 zurueck. Floats werden abgeschnitten.
func (t *Tensor) Ints() []int32 {
	switch t.dtype {
	case ml.DTypeI32:
		return slices.Clone(t.i32)
	case ml.DTypeF32:
		is := make([]int32, len(t.f32))
		for i, v := range t.f32 {
			is[i] = int32(v)
		}
		return is
	default:
		return nil
	}
}

// floats gibt die Daten ohne Kopie als float32 zurueck
func (t *Tensor) floats() []float32 {
	if t.dtype == ml.DTypeF32 {
		return t.f32
	}
	return t.Floats()
}

func (t *Tensor) numElements() int {
	return numElements(t.shape)
}

// Cast konvertiert den Tensor in einen anderen Datentyp
func (t *Tensor) Cast(ctx ml.Context, dtype ml.DType) ml.Tensor {
	if dtype == t.dtype {
		return t
	}

	switch dtype {
	case ml.DTypeF32:
		return &Tensor{b: t.b, dtype: dtype, shape: slices.Clone(t.shape), f32: t.Floats()}
	case ml.DTypeI32:
		return &Tensor{b: t.b, dtype: dtype, shape: slices.Clone(t.shape), i32: t.Ints()}
	default:
		panic(fmt.Sprintf("cpu: unsupported dtype %v", dtype))
	}
}

// Detach gibt eine als Konstante markierte Sicht auf die Daten zurueck
func (t *Tensor) Detach(ctx ml.Context) ml.Tensor {
	d := *t
	d.constant = true
	return &d
}

// Contiguous gibt den Tensor unveraendert zurueck, alle Tensoren sind zusammenhaengend
func (t *Tensor) Contiguous(ctx ml.Context) ml.Tensor {
	return t
}

// StraightThrough liefert den Wert von quantized mit t als Gradienten-Identitaet
func (t *Tensor) StraightThrough(ctx ml.Context, quantized ml.Tensor) ml.Tensor {
	q := quantized.(*Tensor)
	if !slices.Equal(t.shape, q.shape) {
		panic(fmt.Sprintf("cpu: straight-through shape mismatch %v vs %v", t.shape, q.shape))
	}

	return &Tensor{b: t.b, dtype: ml.DTypeF32, shape: slices.Clone(q.shape), f32: q.floats()}
}
