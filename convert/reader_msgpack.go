// reader_msgpack.go - Lesen von Flax-Checkpoints im msgpack-Format
// Hauptfunktionen: Array, Scalar, decodeState, flatten
package convert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/d4l3k/go-bfloat16"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/x448/float16"
)

// Ext-Typen von flax.serialization
const (
	extNDArray  = 1
	extNPScalar = 3
)

// chunkedKey markiert Arrays, die flax in Stuecke zerlegt hat
const chunkedKey = "__msgpack_chunked_array__"

func init() {
	msgpack.RegisterExt(extNDArray, (*Array)(nil))
	msgpack.RegisterExt(extNPScalar, (*Scalar)(nil))
}

var ErrDType = errors.New("convert: unsupported dtype")

// Array ist ein numpy-Array aus einem Flax-Checkpoint: (shape, dtype, bytes)
type Array struct {
	Shape []int
	DType string
	Data  []byte
}

var (
	_ msgpack.Marshaler   = (*Array)(nil)
	_ msgpack.Unmarshaler = (*Array)(nil)
)

func (a *Array) MarshalMsgpack() ([]byte, error) {
	return msgpack.Marshal([]any{a.Shape, a.DType, a.Data})
}

func (a *Array) UnmarshalMsgpack(b []byte) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 3 {
		return fmt.Errorf("convert: ndarray with %d fields", n)
	}

	if err := dec.Decode(&a.Shape); err != nil {
		return fmt.Errorf("convert: ndarray shape: %w", err)
	}
	if a.DType, err = dec.DecodeString(); err != nil {
		return fmt.Errorf("convert: ndarray dtype: %w", err)
	}
	if a.Data, err = dec.DecodeBytes(); err != nil {
		return fmt.Errorf("convert: ndarray data: %w", err)
	}
	return nil
}

// NumValues ist das Produkt der Dimensionen
func (a *Array) NumValues() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Floats dekodiert die Daten nach float32
func (a *Array) Floats() ([]float32, error) {
	size, err := dtypeSize(a.DType)
	if err != nil {
		return nil, err
	}

	n := a.NumValues()
	if len(a.Data) != n*size {
		return nil, fmt.Errorf("convert: %s array %v has %d bytes, want %d", a.DType, a.Shape, len(a.Data), n*size)
	}

	f32s := make([]float32, n)
	switch a.DType {
	case "float32":
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.Data[i*4:]))
		}
	case "float16":
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(a.Data[i*2:])).Float32()
		}
	case "bfloat16":
		f32s = bfloat16.DecodeFloat32(a.Data)
	case "float64":
		for i := range f32s {
			f32s[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*8:])))
		}
	}

	return f32s, nil
}

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case "float32":
		return 4, nil
	case "float16", "bfloat16":
		return 2, nil
	case "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrDType, dtype)
	}
}

// Scalar ist ein numpy-Skalar (dtype, bytes), z.B. der Schrittzaehler im Optimizer-State
type Scalar struct {
	DType string
	Data  []byte
}

func (s *Scalar) MarshalMsgpack() ([]byte, error) {
	return msgpack.Marshal([]any{s.DType, s.Data})
}

func (s *Scalar) UnmarshalMsgpack(b []byte) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	if _, err := dec.DecodeArrayLen(); err != nil {
		return err
	}

	var err error
	if s.DType, err = dec.DecodeString(); err != nil {
		return err
	}
	s.Data, err = dec.DecodeBytes()
	return err
}

// decodeState liest den kompletten State-Baum
func decodeState(r io.Reader) (map[string]any, error) {
	dec := msgpack.NewDecoder(r)
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeUntypedMap()
	})

	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("convert: decode msgpack: %w", err)
	}

	state, ok := stringMap(v)
	if !ok {
		return nil, fmt.Errorf("convert: top level is %T, want map", v)
	}
	return state, nil
}

// stringMap normalisiert Maps mit beliebigen Schluesseln auf string-Schluessel
func stringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			switch k := k.(type) {
			case string:
				out[k] = v
			case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
				out[fmt.Sprint(k)] = v
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

// flatten legt den Baum als "a/b/c" -> Array ab
func flatten(prefix string, v any, out map[string]*Array) error {
	switch v := v.(type) {
	case *Array:
		out[prefix] = v
		return nil
	case *Scalar:
		return fmt.Errorf("convert: unexpected scalar at %q", prefix)
	}

	m, ok := stringMap(v)
	if !ok {
		return fmt.Errorf("convert: unexpected %T at %q", v, prefix)
	}

	if _, ok := m[chunkedKey]; ok {
		a, err := unchunk(prefix, m)
		if err != nil {
			return err
		}
		out[prefix] = a
		return nil
	}

	for _, k := range slices.Sorted(maps.Keys(m)) {
		name := k
		if prefix != "" {
			name = prefix + "/" + k
		}
		if err := flatten(name, m[k], out); err != nil {
			return err
		}
	}
	return nil
}

// unchunk setzt ein von flax zerlegtes Array wieder zusammen
func unchunk(prefix string, m map[string]any) (*Array, error) {
	var shape []int
	if s, ok := m["shape"].([]any); ok {
		for _, d := range s {
			n, err := toInt(d)
			if err != nil {
				return nil, fmt.Errorf("convert: chunked array %q: %w", prefix, err)
			}
			shape = append(shape, n)
		}
	}

	chunks, ok := stringMap(m["chunks"])
	if !ok {
		return nil, fmt.Errorf("convert: chunked array %q without chunks", prefix)
	}

	a := &Array{Shape: shape}
	for i := range len(chunks) {
		c, ok := chunks[strconv.Itoa(i)].(*Array)
		if !ok {
			return nil, fmt.Errorf("convert: chunked array %q: missing chunk %d", prefix, i)
		}
		if a.DType == "" {
			a.DType = c.DType
		} else if c.DType != a.DType {
			return nil, fmt.Errorf("convert: chunked array %q: mixed dtypes", prefix)
		}
		a.Data = append(a.Data, c.Data...)
	}
	return a, nil
}

func toInt(v any) (int, error) {
	switch v := v.(type) {
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%T is not an integer", v)
	}
}
