// vq.go - Vektorquantisierung mit gelerntem Codebook
// Enthaelt: VectorQuantizer, NewVectorQuantizer()
package quantizer

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/ollama/vqtok/logutil"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
)

// VectorQuantizer ordnet jedem Merkmalsvektor den naechsten Codebook-Eintrag zu
type VectorQuantizer struct {
	Embedding ml.Tensor `gguf:"codebook"`

	opts Options
}

// NewVectorQuantizer erstellt einen Quantisierer ohne Parameter.
// Das Codebook kommt aus Init oder einem Checkpoint.
func NewVectorQuantizer(opts Options) (*VectorQuantizer, error) {
	if opts.CodebookSize <= 0 || opts.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("%w: codebook %dx%d", ErrConfig, opts.CodebookSize, opts.EmbeddingDim)
	}

	if err := opts.validateLosses(); err != nil {
		return nil, err
	}

	return &VectorQuantizer{opts: opts}, nil
}

func (q *VectorQuantizer) CodebookSize() int { return q.opts.CodebookSize }
func (q *VectorQuantizer) EmbeddingDim() int { return q.opts.EmbeddingDim }

// Init zieht das Codebook aus variance_scaling(1, fan_in, uniform)
func (q *VectorQuantizer) Init(ctx ml.Context, rng *rand.Rand) error {
	k, d := q.opts.CodebookSize, q.opts.EmbeddingDim
	q.Embedding = ctx.FromFloats(nn.VarianceScaling(rng, 1, nn.FanIn, nn.Uniform, k, d), k, d)
	return nil
}

func (q *VectorQuantizer) Validate() error {
	return nn.CheckShape("codebook", q.Embedding, q.opts.CodebookSize, q.opts.EmbeddingDim)
}

func (q *VectorQuantizer) Forward(ctx ml.Context, x ml.Tensor, train bool) (ml.Tensor, *Record, error) {
	k, d := q.opts.CodebookSize, q.opts.EmbeddingDim
	if x.Dim(-1) != d {
		return nil, nil, fmt.Errorf("%w: features %v, embedding dim %d", ErrShape, x.Shape(), d)
	}

	shape := x.Shape()
	lead := shape[:len(shape)-1]

	flat := x.Reshape(ctx, -1, d)
	distances := nn.SquaredEuclideanDistance(ctx, flat, q.Embedding)
	ids := distances.Argmin(ctx)
	encodings := ids.OneHot(ctx, k)
	quantized := encodings.Mulmat(ctx, q.Embedding)

	logutil.Trace("vector quantizer", "features", shape, "codebook", q.Embedding.Shape())

	r := NewRecord()
	if train {
		eLatent := nn.MeanSquaredError(ctx, quantized.Detach(ctx), flat).Scale(ctx, float64(q.opts.CommitmentCost))
		qLatent := nn.MeanSquaredError(ctx, quantized, flat.Detach(ctx))

		entropy := ctx.Zeros(ml.DTypeF32, 1)
		if q.opts.EntropyLossRatio != 0 {
			loss, err := nn.EntropyLoss(ctx, distances.Scale(ctx, -1), q.opts.EntropyLossType, q.opts.EntropyTemperature)
			if err != nil {
				return nil, nil, err
			}
			entropy = loss.Scale(ctx, float64(q.opts.EntropyLossRatio))
		}

		r.Set(KeyQuantizerLoss, eLatent.Add(ctx, qLatent).Add(ctx, entropy))
		r.Set(KeyELatentLoss, eLatent)
		r.Set(KeyQLatentLoss, qLatent)
		r.Set(KeyEntropyLoss, entropy)

		quantized = nn.StraightThrough(ctx, flat, quantized)
	}

	r.Set(KeyEncodings, encodings.Reshape(ctx, append(slices.Clone(lead), k)...))
	r.Set(KeyEncodingIndices, ids.Reshape(ctx, lead...))
	r.Set(KeyRaw, x)

	return quantized.Reshape(ctx, shape...), r, nil
}

func (q *VectorQuantizer) Quantize(ctx ml.Context, oneHot ml.Tensor) (ml.Tensor, error) {
	if oneHot.Dim(-1) != q.opts.CodebookSize {
		return nil, fmt.Errorf("%w: one-hot %v, codebook size %d", ErrShape, oneHot.Shape(), q.opts.CodebookSize)
	}
	return oneHot.Mulmat(ctx, q.Embedding), nil
}

func (q *VectorQuantizer) Codebook(ctx ml.Context) ml.Tensor {
	return q.Embedding
}

func (q *VectorQuantizer) DecodeIDs(ctx ml.Context, ids ml.Tensor) (ml.Tensor, error) {
	if err := checkRange(ids, q.opts.CodebookSize); err != nil {
		return nil, err
	}
	return q.Embedding.Rows(ctx, ids), nil
}

// checkRange prueft, dass alle Indizes in [0, n) liegen
func checkRange(ids ml.Tensor, n int) error {
	for i, id := range ids.Ints() {
		if id < 0 || int(id) >= n {
			return fmt.Errorf("%w: ids[%d] = %d, codebook size %d", ErrIndexRange, i, id, n)
		}
	}
	return nil
}
