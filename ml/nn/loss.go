package nn

import (
	"fmt"

	"github.com/ollama/vqtok/ml"
)

// EntropyLossType bestimmt das Ziel der Sample-Entropie
type EntropyLossType string

const (
	EntropySoftmax EntropyLossType = "softmax"
	EntropyArgmax  EntropyLossType = "argmax"
)

// StraightThrough liefert im Vorwaertsdurchlauf quantized, Gradienten
// fliessen unveraendert nach raw.
func StraightThrough(ctx ml.Context, raw, quantized ml.Tensor) ml.Tensor {
	if st, ok := raw.(ml.StraightThrough); ok {
		return st.StraightThrough(ctx, quantized)
	}
	return raw.Add(ctx, quantized.Sub(ctx, raw).Detach(ctx))
}

// SquaredEuclideanDistance berechnet ||a_i - b_j||^2 fuer a (N, D) und b (K, D).
// Das Ergebnis hat die Form (N, K).
func SquaredEuclideanDistance(ctx ml.Context, a, b ml.Tensor) ml.Tensor {
	a2 := a.Sqr(ctx).SumRows(ctx).Reshape(ctx, a.Dim(0), 1)
	b2 := b.Sqr(ctx).SumRows(ctx)
	ab := a.Mulmat(ctx, b.Permute(ctx, 1, 0))
	return a2.Sub(ctx, ab.Scale(ctx, 2)).Add(ctx, b2)
}

// MeanAll mittelt ueber alle Elemente und liefert einen Skalar
func MeanAll(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return t.Reshape(ctx, -1).Mean(ctx)
}

// MeanSquaredError ist mean((a - b)^2) als Skalar
func MeanSquaredError(ctx ml.Context, a, b ml.Tensor) ml.Tensor {
	return MeanAll(ctx, a.Sub(ctx, b).Sqr(ctx))
}

// EntropyLoss bestraft unsichere Zuordnungen pro Sample und belohnt eine
// gleichmaessige Nutzung des Codebooks. affinity hat die Form (..., K).
func EntropyLoss(ctx ml.Context, affinity ml.Tensor, kind EntropyLossType, temperature float32) (ml.Tensor, error) {
	if temperature <= 0 {
		return nil, fmt.Errorf("%w: entropy temperature %v", ErrUnknown, temperature)
	}

	k := affinity.Dim(-1)
	flat := affinity.Reshape(ctx, -1, k).Scale(ctx, 1/float64(temperature))
	probs := flat.Softmax(ctx)
	logProbs := flat.AddScalar(ctx, 1e-5).LogSoftmax(ctx)

	var target ml.Tensor
	switch kind {
	case EntropySoftmax:
		target = probs
	case EntropyArgmax:
		onehot := flat.Argmax(ctx).OneHot(ctx, k)
		target = StraightThrough(ctx, probs, onehot)
	default:
		return nil, fmt.Errorf("%w: entropy loss type %q", ErrUnknown, kind)
	}

	avgProbs := target.Permute(ctx, 1, 0).Mean(ctx)
	avgEntropy := avgProbs.Mul(ctx, avgProbs.AddScalar(ctx, 1e-5).Log(ctx)).SumRows(ctx).Scale(ctx, -1)
	sampleEntropy := target.Mul(ctx, logProbs).SumRows(ctx).Mean(ctx).Scale(ctx, -1)

	return sampleEntropy.Sub(ctx, avgEntropy), nil
}
