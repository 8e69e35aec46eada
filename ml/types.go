// types.go - Datentypen und Konstanten fuer ML-Operationen
// Dieses Modul definiert grundlegende Typen wie DType und SamplingMode.
package ml

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeI32
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeI32:
		return "i32"
	default:
		return "other"
	}
}

// SamplingMode specifies the interpolation method for tensor resizing.
type SamplingMode int

const (
	SamplingModeNearest SamplingMode = iota
	SamplingModeBilinear

	// SamplingModeUnknown steht fuer einen nicht erkannten Modus
	SamplingModeUnknown SamplingMode = -1
)

// ParseSamplingMode parses "nearest" or "bilinear".
func ParseSamplingMode(s string) (SamplingMode, bool) {
	switch s {
	case "nearest", "":
		return SamplingModeNearest, true
	case "bilinear", "linear":
		return SamplingModeBilinear, true
	default:
		return SamplingModeUnknown, false
	}
}

// Valid meldet ob m ein unterstuetzter Modus ist
func (m SamplingMode) Valid() bool {
	return m == SamplingModeNearest || m == SamplingModeBilinear
}

func (m SamplingMode) String() string {
	switch m {
	case SamplingModeNearest:
		return "nearest"
	case SamplingModeBilinear:
		return "bilinear"
	default:
		return "unknown"
	}
}
