package nn

import (
	"fmt"

	"github.com/ollama/vqtok/ml"
)

// Activation ist eine elementweise Nichtlinearitaet
type Activation func(ctx ml.Context, t ml.Tensor) ml.Tensor

func Swish(ctx ml.Context, t ml.Tensor) ml.Tensor   { return t.SILU(ctx) }
func ReLU(ctx ml.Context, t ml.Tensor) ml.Tensor    { return t.RELU(ctx) }
func GELU(ctx ml.Context, t ml.Tensor) ml.Tensor    { return t.GELU(ctx) }
func Sigmoid(ctx ml.Context, t ml.Tensor) ml.Tensor { return t.Sigmoid(ctx) }
func Tanh(ctx ml.Context, t ml.Tensor) ml.Tensor    { return t.Tanh(ctx) }

// ActivationByName loest einen Namen wie "swish" oder "relu" auf
func ActivationByName(name string) (Activation, error) {
	switch name {
	case "swish", "silu", "":
		return Swish, nil
	case "relu":
		return ReLU, nil
	case "gelu":
		return GELU, nil
	case "sigmoid":
		return Sigmoid, nil
	case "tanh":
		return Tanh, nil
	default:
		return nil, fmt.Errorf("%w: activation %q", ErrUnknown, name)
	}
}
