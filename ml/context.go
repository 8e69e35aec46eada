// context.go - Context und Tensor Interfaces fuer ML-Operationen
// Dieses Modul definiert die Schnittstellen fuer Tensor-Operationen und Compute-Kontexte.
//
// Alle Tensoren sind Zeilen-Major. Bilder und Feature-Grids liegen als
// (batch, height, width, channels) vor. Reduktionen wirken auf die letzte Dimension.
package ml

// Context represents an execution context for tensor operations.
type Context interface {
	Empty(dtype DType, shape ...int) Tensor
	Zeros(dtype DType, shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor
	FromInts(s []int32, shape ...int) Tensor

	// Arange creates a 1D tensor with values within an interval [start, stop) increased by step.
	Arange(start, stop, step float32, dtype DType) Tensor

	Forward(...Tensor) Context
	Compute(...Tensor)
	Close()

	// Input returns a context appropriate for creating tensors that are
	// inputs to the model
	Input() Context
}

// Tensor is an n-dimensional array owned by a Context.
type Tensor interface {
	// Dim returns the size of dimension n. Negative n counts from the end.
	Dim(n int) int
	Shape() []int
	DType() DType

	Bytes() []byte
	Floats() []float32
	Ints() []int32

	Cast(ctx Context, dtype DType) Tensor

	// Elementwise arithmetic. t2 is broadcast against t following
	// right-aligned broadcasting rules.
	Add(ctx Context, t2 Tensor) Tensor
	Sub(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Div(ctx Context, t2 Tensor) Tensor
	Scale(ctx Context, s float64) Tensor
	AddScalar(ctx Context, s float32) Tensor

	// Mulmat multiplies t (..., K) with t2 (K, N) yielding (..., N).
	Mulmat(ctx Context, t2 Tensor) Tensor

	// Conv2D convolves an NHWC tensor with an HWIO kernel using
	// strides s0/s1, symmetric zero padding p0/p1 and dilations d0/d1.
	Conv2D(ctx Context, weight Tensor, s0, s1, p0, p1, d0, d1 int) Tensor

	// AvgPool2D pools an NHWC tensor with a k x k window, stride s and
	// symmetric zero padding p. Padded values count towards the average.
	AvgPool2D(ctx Context, k, s, p int) Tensor

	// Interpolate resizes an NHWC tensor to dims (B, H, W, C).
	Interpolate(ctx Context, dims [4]int, samplingMode SamplingMode) Tensor

	// Pad appends shape[i] zeros at the end of dimension i.
	Pad(ctx Context, shape ...int) Tensor

	// GroupNorm normalizes NHWC groups of channels per batch item without affine parameters.
	GroupNorm(ctx Context, groups int, eps float32) Tensor
	LayerNorm(ctx Context, weight, bias Tensor, eps float32) Tensor

	Softmax(ctx Context) Tensor
	LogSoftmax(ctx Context) Tensor

	SumRows(ctx Context) Tensor
	Mean(ctx Context) Tensor
	Variance(ctx Context) Tensor
	Argmin(ctx Context) Tensor
	Argmax(ctx Context) Tensor

	// OneHot expands an I32 tensor (...) into an F32 tensor (..., n).
	OneHot(ctx Context, n int) Tensor

	// Rows gathers rows of a 2D tensor by I32 indices.
	Rows(ctx Context, t2 Tensor) Tensor

	Reshape(ctx Context, shape ...int) Tensor
	Permute(ctx Context, order ...int) Tensor
	Contiguous(ctx Context) Tensor

	// Detach marks the result as a constant for gradient purposes.
	Detach(ctx Context) Tensor

	GELU(ctx Context) Tensor
	SILU(ctx Context) Tensor
	RELU(ctx Context) Tensor
	Sigmoid(ctx Context) Tensor
	Tanh(ctx Context) Tensor

	Exp(ctx Context) Tensor
	Log(ctx Context) Tensor
	Sqr(ctx Context) Tensor
	Sqrt(ctx Context) Tensor
	Round(ctx Context) Tensor
	Clamp(ctx Context, lo, hi float32) Tensor
}

// StraightThrough implements a fused straight-through estimator
// equivalent to following code on a tensor named raw:
//
// raw.Add(ctx, quantized.Sub(ctx, raw).Detach(ctx))
//
// The forward value must equal quantized exactly, which the unfused
// form does not guarantee under floating point rounding.
type StraightThrough interface {
	StraightThrough(ctx Context, quantized Tensor) Tensor
}
