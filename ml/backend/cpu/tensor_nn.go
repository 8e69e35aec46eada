// tensor_nn.go - Neuronale Netzwerk Operationen
// Enthaelt: Aktivierungen (GELU, SILU, RELU, Sigmoid, Tanh), Normalisierung,
// Softmax, AvgPool2D, Interpolate
package cpu

import (
	"fmt"
	"math"
	"slices"

	"github.com/ollama/vqtok/ml"
)

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// GELU berechnet GELU mit tanh-Approximation
func (t *Tensor) GELU(ctx ml.Context) ml.Tensor {
	const c = 0.7978845608028654 // sqrt(2/pi)
	return t.unary(ctx, func(v float32) float32 {
		x := float64(v)
		return float32(0.5 * x * (1 + math.Tanh(c*(x+0.044715*x*x*x))))
	})
}

// SILU berechnet x * sigmoid(x)
func (t *Tensor) SILU(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return v * sigmoid(v) })
}

// RELU berechnet max(x, 0)
func (t *Tensor) RELU(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return max(v, 0) })
}

// Sigmoid berechnet 1 / (1 + e^-x)
func (t *Tensor) Sigmoid(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, sigmoid)
}

// Tanh berechnet Tangens Hyperbolicus
func (t *Tensor) Tanh(ctx ml.Context) ml.Tensor {
	return t.unary(ctx, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

// GroupNorm normalisiert jede Kanalgruppe pro Batch-Element
func (t *Tensor) GroupNorm(ctx ml.Context, groups int, eps float32) ml.Tensor {
	if len(t.shape) < 2 {
		panic(fmt.Sprintf("cpu: group norm needs a batch and channel dimension, got %v", t.shape))
	}

	bs, c := t.shape[0], t.shape[len(t.shape)-1]
	if groups <= 0 || c%groups != 0 {
		panic(fmt.Sprintf("cpu: %d channels not divisible into %d groups", c, groups))
	}

	a := t.floats()
	spatial := t.numElements() / (bs * c)
	gs := c / groups

	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: slices.Clone(t.shape), f32: make([]float32, len(a))}
	parallelFor(ctx, bs*groups, 1, func(lo, hi int) {
		for task := lo; task < hi; task++ {
			b, g := task/groups, task%groups
			base := b * spatial * c

			var sum float64
			for s := range spatial {
				for _, v := range a[base+s*c+g*gs : base+s*c+(g+1)*gs] {
					sum += float64(v)
				}
			}
			n := float64(spatial * gs)
			mean := sum / n

			var sq float64
			for s := range spatial {
				for _, v := range a[base+s*c+g*gs : base+s*c+(g+1)*gs] {
					d := float64(v) - mean
					sq += d * d
				}
			}
			inv := 1 / math.Sqrt(sq/n+float64(eps))

			for s := range spatial {
				off := base + s*c + g*gs
				for i := off; i < off+gs; i++ {
					out.f32[i] = float32((float64(a[i]) - mean) * inv)
				}
			}
		}
	})

	return out
}

// LayerNorm normalisiert ueber die letzte Dimension. weight und bias duerfen nil sein.
func (t *Tensor) LayerNorm(ctx ml.Context, weight, bias ml.Tensor, eps float32) ml.Tensor {
	d := t.Dim(-1)
	a := t.floats()

	var w, b []float32
	if weight != nil {
		w = weight.(*Tensor).floats()
	}
	if bias != nil {
		b = bias.(*Tensor).floats()
	}

	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: slices.Clone(t.shape), f32: make([]float32, len(a))}
	parallelFor(ctx, len(a)/max(d, 1), 256, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			row := a[r*d : (r+1)*d]

			var sum float64
			for _, v := range row {
				sum += float64(v)
			}
			mean := sum / float64(d)

			var sq float64
			for _, v := range row {
				sq += (float64(v) - mean) * (float64(v) - mean)
			}
			inv := 1 / math.Sqrt(sq/float64(d)+float64(eps))

			for i, v := range row {
				y := float32((float64(v) - mean) * inv)
				if w != nil {
					y *= w[i]
				}
				if b != nil {
					y += b[i]
				}
				out.f32[r*d+i] = y
			}
		}
	})

	return out
}

// softmaxRows berechnet Softmax oder LogSoftmax fuer jede Zeile der letzten Dimension
func (t *Tensor) softmaxRows(ctx ml.Context, log bool) ml.Tensor {
	d := t.Dim(-1)
	a := t.floats()

	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: slices.Clone(t.shape), f32: make([]float32, len(a))}
	parallelFor(ctx, len(a)/max(d, 1), 64, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			row := a[r*d : (r+1)*d]
			m := slices.Max(row)

			var sum float64
			for _, v := range row {
				sum += math.Exp(float64(v - m))
			}

			if log {
				lse := math.Log(sum)
				for i, v := range row {
					out.f32[r*d+i] = float32(float64(v-m) - lse)
				}
			} else {
				for i, v := range row {
					out.f32[r*d+i] = float32(math.Exp(float64(v-m)) / sum)
				}
			}
		}
	})

	return out
}

// Softmax berechnet Softmax ueber die letzte Dimension
func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	return t.softmaxRows(ctx, false)
}

// LogSoftmax berechnet log(softmax(x)) numerisch stabil
func (t *Tensor) LogSoftmax(ctx ml.Context) ml.Tensor {
	return t.softmaxRows(ctx, true)
}

// AvgPool2D mittelt k x k Fenster eines NHWC-Tensors
func (t *Tensor) AvgPool2D(ctx ml.Context, k, s, p int) ml.Tensor {
	if len(t.shape) != 4 {
		panic(fmt.Sprintf("cpu: avg pool needs NHWC input, got %v", t.shape))
	}

	bs, h, w, c := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	oh := (h+2*p-k)/s + 1
	ow := (w+2*p-k)/s + 1

	a := t.floats()
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: []int{bs, oh, ow, c}, f32: make([]float32, bs*oh*ow*c)}
	scale := 1 / float32(k*k)

	parallelFor(ctx, bs*oh, 1, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			b, y := r/oh, r%oh
			for x := range ow {
				dst := out.f32[((b*oh+y)*ow+x)*c : ((b*oh+y)*ow+x+1)*c]
				for ky := range k {
					iy := y*s - p + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := range k {
						ix := x*s - p + kx
						if ix < 0 || ix >= w {
							continue
						}
						for i, v := range a[((b*h+iy)*w+ix)*c : ((b*h+iy)*w+ix+1)*c] {
							dst[i] += v
						}
					}
				}
				for i := range dst {
					dst[i] *= scale
				}
			}
		}
	})

	return out
}

// Interpolate skaliert einen NHWC-Tensor auf (B, H, W, C). Nur H und W duerfen sich aendern.
func (t *Tensor) Interpolate(ctx ml.Context, dims [4]int, samplingMode ml.SamplingMode) ml.Tensor {
	if len(t.shape) != 4 || dims[0] != t.shape[0] || dims[3] != t.shape[3] {
		panic(fmt.Sprintf("cpu: cannot interpolate %v to %v", t.shape, dims))
	}

	bs, h, w, c := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	oh, ow := dims[1], dims[2]

	a := t.floats()
	out := &Tensor{b: t.b, dtype: ml.DTypeF32, shape: dims[:], f32: make([]float32, bs*oh*ow*c)}

	// Halbe-Pixel-Zentren wie bei jax.image.resize
	source := func(o, in, outN int) float64 {
		return (float64(o)+0.5)*float64(in)/float64(outN) - 0.5
	}

	parallelFor(ctx, bs*oh, 1, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			b, y := r/oh, r%oh
			for x := range ow {
				dst := out.f32[((b*oh+y)*ow+x)*c : ((b*oh+y)*ow+x+1)*c]
				switch samplingMode {
				case ml.SamplingModeBilinear:
					sy := min(max(source(y, h, oh), 0), float64(h-1))
					sx := min(max(source(x, w, ow), 0), float64(w-1))
					y0, x0 := int(sy), int(sx)
					y1, x1 := min(y0+1, h-1), min(x0+1, w-1)
					fy, fx := float32(sy-float64(y0)), float32(sx-float64(x0))

					p00 := a[((b*h+y0)*w+x0)*c:]
					p01 := a[((b*h+y0)*w+x1)*c:]
					p10 := a[((b*h+y1)*w+x0)*c:]
					p11 := a[((b*h+y1)*w+x1)*c:]
					for i := range dst {
						top := p00[i] + (p01[i]-p00[i])*fx
						bottom := p10[i] + (p11[i]-p10[i])*fx
						dst[i] = top + (bottom-top)*fy
					}
				default:
					sy := min(int(math.Floor((float64(y)+0.5)*float64(h)/float64(oh))), h-1)
					sx := min(int(math.Floor((float64(x)+0.5)*float64(w)/float64(ow))), w-1)
					copy(dst, a[((b*h+sy)*w+sx)*c:])
				}
			}
		}
	})

	return out
}
