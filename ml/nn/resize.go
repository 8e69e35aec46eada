package nn

import "github.com/ollama/vqtok/ml"

// Downsample halbiert H und W per 2x2 Average-Pooling
func Downsample(ctx ml.Context, t ml.Tensor) ml.Tensor {
	// Bei 2x2/2 faellt SAME-Padding hoechstens am Ende an
	_, h := samePadding(t.Dim(1), 2, 2)
	_, w := samePadding(t.Dim(2), 2, 2)
	if h > 0 || w > 0 {
		t = t.Pad(ctx, 0, h, w)
	}

	return t.AvgPool2D(ctx, 2, 2, 0)
}

// Upsample vergroessert H und W um factor
func Upsample(ctx ml.Context, t ml.Tensor, factor int, mode ml.SamplingMode) ml.Tensor {
	return t.Interpolate(ctx, [4]int{t.Dim(0), t.Dim(1) * factor, t.Dim(2) * factor, t.Dim(3)}, mode)
}
