package nn

import (
	"fmt"

	"github.com/ollama/vqtok/ml"
)

// NormKind waehlt die Normalisierung von Norm
type NormKind string

const (
	GroupNorm NormKind = "GN"
	LayerNorm NormKind = "LN"
	BatchNorm NormKind = "BN"
)

// ParseNormKind akzeptiert GN, LN und BN
func ParseNormKind(s string) (NormKind, error) {
	switch k := NormKind(s); k {
	case GroupNorm, LayerNorm, BatchNorm:
		return k, nil
	default:
		return "", fmt.Errorf("%w: normalization %q", ErrUnknown, s)
	}
}

// DefaultEps liefert das Epsilon fuer NormOptions.Eps == 0
func (k NormKind) DefaultEps() float32 {
	if k == BatchNorm {
		return 1e-5
	}
	return 1e-6
}

type NormOptions struct {
	Kind   NormKind
	Groups int
	Eps    float32

	// Train nutzt bei BatchNorm die Statistik des Batches
	Train bool
}

// Norm haelt die affinen Parameter aller Normalisierungen.
// RunningMean und RunningVar gibt es nur bei BatchNorm.
type Norm struct {
	Weight      ml.Tensor `gguf:"weight"`
	Bias        ml.Tensor `gguf:"bias"`
	RunningMean ml.Tensor `gguf:"running_mean"`
	RunningVar  ml.Tensor `gguf:"running_var"`
}

func (m *Norm) Forward(ctx ml.Context, t ml.Tensor, opts NormOptions) ml.Tensor {
	eps := opts.Eps
	if eps == 0 {
		eps = opts.Kind.DefaultEps()
	}

	switch opts.Kind {
	case LayerNorm:
		return t.LayerNorm(ctx, m.Weight, m.Bias, eps)
	case BatchNorm:
		mean, variance := m.RunningMean, m.RunningVar
		if opts.Train {
			c := t.Dim(-1)
			flat := t.Reshape(ctx, -1, c).Permute(ctx, 1, 0)
			mean, variance = flat.Mean(ctx), flat.Variance(ctx)
		}
		t = t.Sub(ctx, mean).Div(ctx, variance.AddScalar(ctx, eps).Sqrt(ctx))
	default:
		t = t.GroupNorm(ctx, opts.Groups, eps)
	}

	if m.Weight != nil {
		t = t.Mul(ctx, m.Weight)
	}
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias)
	}
	return t
}

// Init setzt Skalierung auf Eins und Offset auf Null
func (m *Norm) Init(ctx ml.Context, kind NormKind, channels int) {
	ones := make([]float32, channels)
	for i := range ones {
		ones[i] = 1
	}

	m.Weight = ctx.FromFloats(ones, channels)
	m.Bias = ctx.Zeros(ml.DTypeF32, channels)
	if kind == BatchNorm {
		m.RunningMean = ctx.Zeros(ml.DTypeF32, channels)
		m.RunningVar = ctx.FromFloats(ones, channels)
	}
}
