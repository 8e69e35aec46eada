// Package gguf - Tensor-Daten kodieren und dekodieren
//
// Dieses Modul enthaelt:
// - Tensor: Ein zu schreibender Tensor mit Name, Form und Daten
// - NewTensor: Erstellt einen Tensor aus float32-Werten (F32 oder F16)
// - DecodeFloats: Dekodiert F32/F16/BF16-Daten nach float32
// - DecodeInts: Dekodiert I32-Daten
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor ist ein Tensor der geschrieben werden soll
type Tensor struct {
	Name   string
	Kind   TensorType
	Offset uint64

	// Shape liegt in ggml-Reihenfolge vor
	Shape []uint64

	io.WriterTo
}

// Size gibt die Groesse der Daten in Bytes zurueck
func (t *Tensor) Size() uint64 {
	return uint64(TensorInfo{Shape: t.Shape, Type: t.Kind}.NumBytes())
}

// floatWriter schreibt float32-Werte im Zielformat
type floatWriter struct {
	kind TensorType
	data []float32
}

func (w floatWriter) WriteTo(dst io.Writer) (int64, error) {
	switch w.kind {
	case TensorTypeF32:
		return int64(4 * len(w.data)), binary.Write(dst, binary.LittleEndian, w.data)
	case TensorTypeF16:
		f16s := make([]uint16, len(w.data))
		for i := range w.data {
			f16s[i] = float16.Fromfloat32(w.data[i]).Bits()
		}
		return int64(2 * len(f16s)), binary.Write(dst, binary.LittleEndian, f16s)
	default:
		return 0, fmt.Errorf("%w storage type %s", ErrUnsupported, w.kind)
	}
}

// intWriter schreibt int32-Werte
type intWriter []int32

func (w intWriter) WriteTo(dst io.Writer) (int64, error) {
	return int64(4 * len(w)), binary.Write(dst, binary.LittleEndian, []int32(w))
}

// NewTensor erstellt einen Tensor aus float32-Werten.
// dims ist die Zeilen-Major Form, kind F32 oder F16.
func NewTensor(name string, dims []int, data []float32, kind TensorType) (*Tensor, error) {
	if kind != TensorTypeF32 && kind != TensorTypeF16 {
		return nil, fmt.Errorf("%w storage type %s for %s", ErrUnsupported, kind, name)
	}

	t := &Tensor{Name: name, Kind: kind, Shape: fileShape(dims), WriterTo: floatWriter{kind: kind, data: data}}
	if n := (TensorInfo{Shape: t.Shape}).NumValues(); n != int64(len(data)) {
		return nil, fmt.Errorf("tensor %s: shape %v needs %d values, got %d", name, dims, n, len(data))
	}

	return t, nil
}

// NewIntTensor erstellt einen I32-Tensor
func NewIntTensor(name string, dims []int, data []int32) (*Tensor, error) {
	t := &Tensor{Name: name, Kind: TensorTypeI32, Shape: fileShape(dims), WriterTo: intWriter(data)}
	if n := (TensorInfo{Shape: t.Shape}).NumValues(); n != int64(len(data)) {
		return nil, fmt.Errorf("tensor %s: shape %v needs %d values, got %d", name, dims, n, len(data))
	}

	return t, nil
}

// DecodeInts liest n I32-Werte
func DecodeInts(r io.Reader, n int) ([]int32, error) {
	i32s := make([]int32, n)
	if err := binary.Read(r, binary.LittleEndian, i32s); err != nil {
		return nil, err
	}
	return i32s, nil
}

// DecodeFloats liest n Werte vom Typ kind und konvertiert sie nach float32
func DecodeFloats(kind TensorType, r io.Reader, n int) ([]float32, error) {
	switch kind {
	case TensorTypeF32:
		f32s := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, f32s); err != nil {
			return nil, err
		}
		return f32s, nil
	case TensorTypeF16:
		u16s := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, u16s); err != nil {
			return nil, err
		}

		f32s := make([]float32, n)
		for i := range u16s {
			f32s[i] = float16.Frombits(u16s[i]).Float32()
		}
		return f32s, nil
	case TensorTypeBF16:
		u8s := make([]uint8, 2*n)
		if _, err := io.ReadFull(r, u8s); err != nil {
			return nil, err
		}
		return bfloat16.DecodeFloat32(u8s), nil
	case TensorTypeI32:
		i32s := make([]int32, n)
		if err := binary.Read(r, binary.LittleEndian, i32s); err != nil {
			return nil, err
		}

		f32s := make([]float32, n)
		for i, v := range i32s {
			f32s[i] = float32(v)
		}
		return f32s, nil
	default:
		return nil, fmt.Errorf("%w tensor type %d", ErrUnsupported, kind)
	}
}
