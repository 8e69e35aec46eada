package nn

import (
	"math/rand/v2"

	"github.com/ollama/vqtok/ml"
)

// Conv2D ist eine Faltung mit HWIO-Kernel und SAME-Padding
type Conv2D struct {
	Weight ml.Tensor `gguf:"weight"`
	Bias   ml.Tensor `gguf:"bias"`
}

func (m *Conv2D) Forward(ctx ml.Context, t ml.Tensor, s0, s1 int) ml.Tensor {
	lo0, hi0 := samePadding(t.Dim(1), m.Weight.Dim(0), s0)
	lo1, hi1 := samePadding(t.Dim(2), m.Weight.Dim(1), s1)

	// Ungerades Padding landet wie bei XLA am Ende
	if hi0 > lo0 || hi1 > lo1 {
		t = t.Pad(ctx, 0, hi0-lo0, hi1-lo1)
	}

	t = t.Conv2D(ctx, m.Weight, s0, s1, lo0, lo1, 1, 1)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias)
	}
	return t
}

// Init erzeugt einen lecun-normal Kernel und optional einen Null-Bias
func (m *Conv2D) Init(ctx ml.Context, rng *rand.Rand, kh, kw, in, out int, bias bool) {
	shape := []int{kh, kw, in, out}
	m.Weight = ctx.FromFloats(VarianceScaling(rng, 1, FanIn, TruncatedNormal, shape...), shape...)
	if bias {
		m.Bias = ctx.Zeros(ml.DTypeF32, out)
	}
}

func samePadding(in, k, s int) (lo, hi int) {
	out := (in + s - 1) / s
	total := max((out-1)*s+k-in, 0)
	return total / 2, total - total/2
}
