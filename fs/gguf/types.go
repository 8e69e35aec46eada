// Package gguf - GGUF Typ-Konstanten und Tensor-Typen
//
// Dieses Modul enthaelt:
// - Type-Konstanten fuer KV-Werte (typeUint8 bis typeFloat64)
// - TensorType: Datentyp der gespeicherten Tensor-Daten
// - TensorInfo: Name, Form und Offset eines Tensors
package gguf

import (
	"errors"
	"fmt"
	"slices"
)

// Type-Konstanten fuer GGUF-Datentypen
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// ErrUnsupported wird bei nicht unterstuetzten Formaten oder Versionen zurueckgegeben
var ErrUnsupported = errors.New("unsupported")

// TensorType entspricht ggml_type. Nur die hier gelisteten Typen werden gelesen.
type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeI32  TensorType = 26
	TensorTypeBF16 TensorType = 30
)

// ParseTensorType parst einen Typ-Namen wie "F16"
func ParseTensorType(s string) (TensorType, error) {
	switch s {
	case "F32", "f32":
		return TensorTypeF32, nil
	case "F16", "f16":
		return TensorTypeF16, nil
	case "I32", "i32":
		return TensorTypeI32, nil
	case "BF16", "bf16":
		return TensorTypeBF16, nil
	default:
		return 0, fmt.Errorf("%w tensor type %q", ErrUnsupported, s)
	}
}

func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeI32:
		return "I32"
	case TensorTypeBF16:
		return "BF16"
	default:
		return "unknown"
	}
}

// TypeSize gibt die Groesse eines Elements in Bytes zurueck
func (t TensorType) TypeSize() int64 {
	switch t {
	case TensorTypeF32, TensorTypeI32:
		return 4
	case TensorTypeF16, TensorTypeBF16:
		return 2
	default:
		return 0
	}
}

// TensorInfo beschreibt einen Tensor im File.
// Shape liegt in ggml-Reihenfolge vor (innerste Dimension zuerst).
type TensorInfo struct {
	Name   string
	Offset uint64
	Shape  []uint64
	Type   TensorType
}

// Dims gibt die Form in Zeilen-Major-Reihenfolge zurueck (aeusserste Dimension zuerst)
func (ti TensorInfo) Dims() []int {
	dims := make([]int, len(ti.Shape))
	for i, n := range ti.Shape {
		dims[len(dims)-1-i] = int(n)
	}
	return dims
}

// NumValues gibt die Anzahl der Elemente zurueck
func (ti TensorInfo) NumValues() int64 {
	var n int64 = 1
	for _, d := range ti.Shape {
		n *= int64(d)
	}
	return n
}

// NumBytes gibt die Groesse der Tensor-Daten in Bytes zurueck
func (ti TensorInfo) NumBytes() int64 {
	return ti.NumValues() * ti.Type.TypeSize()
}

// fileShape konvertiert eine Zeilen-Major Form in ggml-Reihenfolge
func fileShape(dims []int) []uint64 {
	shape := make([]uint64, len(dims))
	for i, d := range dims {
		shape[i] = uint64(d)
	}
	slices.Reverse(shape)
	return shape
}
