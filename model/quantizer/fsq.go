// fsq.go - Finite Scalar Quantization auf einem festen Gitter
// Enthaelt: FiniteScalarQuantizer, NewFiniteScalarQuantizer(), Indices()
//
// Jede Dimension wird mit tanh beschraenkt und auf L Stufen gerundet.
// Der Index eines Codes ist eine Zahl mit gemischter Basis.
package quantizer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/ollama/vqtok/logutil"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
)

// maxFSQCodes haelt die Indizes exakt in float32 darstellbar
const maxFSQCodes = 1 << 24

// FiniteScalarQuantizer hat kein gelerntes Codebook
type FiniteScalarQuantizer struct {
	levels []int
	basis  []int
	size   int

	halfL, offset, shift, halfWidth []float32
}

func NewFiniteScalarQuantizer(opts Options) (*FiniteScalarQuantizer, error) {
	if len(opts.Levels) == 0 {
		return nil, fmt.Errorf("%w: fsq needs levels", ErrConfig)
	}

	if opts.EmbeddingDim != len(opts.Levels) {
		return nil, fmt.Errorf("%w: embedding dim %d, %d levels", ErrConfig, opts.EmbeddingDim, len(opts.Levels))
	}

	q := FiniteScalarQuantizer{levels: slices.Clone(opts.Levels), size: 1}
	for _, l := range q.levels {
		if l < 2 {
			return nil, fmt.Errorf("%w: level %d", ErrConfig, l)
		}

		q.basis = append(q.basis, q.size)
		q.size *= l
		if q.size > maxFSQCodes {
			return nil, fmt.Errorf("%w: %v yields more than %d codes", ErrConfig, q.levels, maxFSQCodes)
		}

		halfL := float64(l-1) * (1 + 1e-3) / 2
		var offset float64
		if l%2 == 0 {
			offset = .5
		}

		q.halfL = append(q.halfL, float32(halfL))
		q.offset = append(q.offset, float32(offset))
		q.shift = append(q.shift, float32(math.Atanh(offset/halfL)))
		q.halfWidth = append(q.halfWidth, float32(l/2))
	}

	// 0 heisst: aus den Stufen ableiten
	if opts.CodebookSize != 0 && opts.CodebookSize != q.size {
		return nil, fmt.Errorf("%w: codebook size %d, levels %v yield %d codes", ErrConfig, opts.CodebookSize, q.levels, q.size)
	}

	return &q, nil
}

func (q *FiniteScalarQuantizer) CodebookSize() int { return q.size }
func (q *FiniteScalarQuantizer) EmbeddingDim() int { return len(q.levels) }

// Levels gibt die Stufen pro Dimension zurueck
func (q *FiniteScalarQuantizer) Levels() []int { return slices.Clone(q.levels) }

func (q *FiniteScalarQuantizer) Init(ml.Context, *rand.Rand) error { return nil }
func (q *FiniteScalarQuantizer) Validate() error                  { return nil }

func (q *FiniteScalarQuantizer) vector(ctx ml.Context, v []float32) ml.Tensor {
	return ctx.FromFloats(v, len(v))
}

// bound begrenzt jede Dimension auf (-L/2, L/2) mit Versatz fuer gerade L
func (q *FiniteScalarQuantizer) bound(ctx ml.Context, z ml.Tensor) ml.Tensor {
	return z.Add(ctx, q.vector(ctx, q.shift)).
		Tanh(ctx).
		Mul(ctx, q.vector(ctx, q.halfL)).
		Sub(ctx, q.vector(ctx, q.offset))
}

func (q *FiniteScalarQuantizer) Forward(ctx ml.Context, x ml.Tensor, train bool) (ml.Tensor, *Record, error) {
	d := len(q.levels)
	if x.Dim(-1) != d {
		return nil, nil, fmt.Errorf("%w: features %v, %d levels", ErrShape, x.Shape(), d)
	}

	bounded := q.bound(ctx, x)
	rounded := nn.StraightThrough(ctx, bounded, bounded.Round(ctx))
	quantized := rounded.Div(ctx, q.vector(ctx, q.halfWidth))

	ids := q.Indices(ctx, quantized)

	logutil.Trace("finite scalar quantizer", "features", x.Shape(), "levels", q.levels)

	r := NewRecord()
	if train {
		zero := ctx.Zeros(ml.DTypeF32, 1)
		r.Set(KeyQuantizerLoss, zero)
		r.Set(KeyELatentLoss, zero)
		r.Set(KeyQLatentLoss, zero)
		r.Set(KeyEntropyLoss, zero)
	}

	r.Set(KeyEncodings, ids.OneHot(ctx, q.size))
	r.Set(KeyEncodingIndices, ids)
	r.Set(KeyRaw, x)

	return quantized, r, nil
}

// Indices bildet Codes (..., D) auf ihre Indizes (...) ab
func (q *FiniteScalarQuantizer) Indices(ctx ml.Context, codes ml.Tensor) ml.Tensor {
	shape := codes.Shape()
	hw := q.vector(ctx, q.halfWidth)

	basis := make([]float32, len(q.basis))
	for i, b := range q.basis {
		basis[i] = float32(b)
	}

	digits := codes.Mul(ctx, hw).Add(ctx, hw).Round(ctx)
	ids := digits.Mulmat(ctx, ctx.FromFloats(basis, len(basis), 1))
	return ids.Reshape(ctx, shape[:len(shape)-1]...).Cast(ctx, ml.DTypeI32)
}

// code schreibt die Koordinaten des Index id nach dst
func (q *FiniteScalarQuantizer) code(id int, dst []float32) {
	for i, l := range q.levels {
		digit := (id / q.basis[i]) % l
		dst[i] = float32(digit-l/2) / q.halfWidth[i]
	}
}

func (q *FiniteScalarQuantizer) Quantize(ctx ml.Context, oneHot ml.Tensor) (ml.Tensor, error) {
	if oneHot.Dim(-1) != q.size {
		return nil, fmt.Errorf("%w: one-hot %v, codebook size %d", ErrShape, oneHot.Shape(), q.size)
	}
	return oneHot.Mulmat(ctx, q.Codebook(ctx)), nil
}

func (q *FiniteScalarQuantizer) Codebook(ctx ml.Context) ml.Tensor {
	d := len(q.levels)
	codes := make([]float32, q.size*d)
	for id := range q.size {
		q.code(id, codes[id*d:(id+1)*d])
	}
	return ctx.FromFloats(codes, q.size, d)
}

func (q *FiniteScalarQuantizer) DecodeIDs(ctx ml.Context, ids ml.Tensor) (ml.Tensor, error) {
	if err := checkRange(ids, q.size); err != nil {
		return nil, err
	}

	d := len(q.levels)
	idx := ids.Ints()
	codes := make([]float32, len(idx)*d)
	for i, id := range idx {
		q.code(int(id), codes[i*d:(i+1)*d])
	}

	return ctx.FromFloats(codes, append(ids.Shape(), d)...), nil
}
