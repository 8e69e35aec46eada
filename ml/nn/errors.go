package nn

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ollama/vqtok/ml"
)

var (
	ErrUnknown = errors.New("unknown option")
	ErrShape   = errors.New("shape mismatch")
)

// CheckShape prueft, ob t existiert und die erwartete Form hat
func CheckShape(name string, t ml.Tensor, want ...int) error {
	if t == nil {
		return fmt.Errorf("%w: %s missing", ErrShape, name)
	}
	if got := t.Shape(); !slices.Equal(got, want) {
		return fmt.Errorf("%w: %s has shape %v, want %v", ErrShape, name, got, want)
	}
	return nil
}
