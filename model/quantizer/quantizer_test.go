package quantizer

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/backend/cpu"
)

func randomFeatures(ctx ml.Context, seed uint64, shape ...int) ml.Tensor {
	r := rand.New(rand.NewPCG(seed, seed))
	n := 1
	for _, d := range shape {
		n *= d
	}

	fs := make([]float32, n)
	for i := range fs {
		fs[i] = float32(r.NormFloat64())
	}
	return ctx.FromFloats(fs, shape...)
}

func newVQ(t *testing.T, ctx ml.Context, k, d int) *VectorQuantizer {
	t.Helper()

	opts := DefaultOptions()
	opts.CodebookSize, opts.EmbeddingDim = k, d

	q, err := NewVectorQuantizer(opts)
	require.NoError(t, err)
	require.NoError(t, q.Init(ctx, rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, q.Validate())
	return q
}

func TestVectorQuantizerForward(t *testing.T) {
	ctx := cpu.NewContext(2)
	q := newVQ(t, ctx, 32, 4)
	x := randomFeatures(ctx, 5, 2, 3, 3, 4)

	for _, train := range []bool{false, true} {
		quantized, r, err := q.Forward(ctx, x, train)
		require.NoError(t, err)

		if diff := cmp.Diff(quantized.Shape(), x.Shape()); diff != "" {
			t.Fatalf("shape mismatch (-got +want):\n%s", diff)
		}

		want := []string{KeyEncodings, KeyEncodingIndices, KeyRaw}
		if train {
			want = append([]string{KeyQuantizerLoss, KeyELatentLoss, KeyQLatentLoss, KeyEntropyLoss}, want...)
		}
		if diff := cmp.Diff(r.Keys(), want); diff != "" {
			t.Errorf("train=%v: keys mismatch (-got +want):\n%s", train, diff)
		}

		ids, ok := r.Get(KeyEncodingIndices)
		require.True(t, ok)
		if diff := cmp.Diff(ids.Shape(), []int{2, 3, 3}); diff != "" {
			t.Errorf("ids shape mismatch (-got +want):\n%s", diff)
		}

		// Indizes liegen im Codebook
		for i, id := range ids.Ints() {
			if id < 0 || id >= 32 {
				t.Fatalf("ids[%d]: erwartet [0, 32), bekommen %d", i, id)
			}
		}

		// One-Hot-Zeilen summieren exakt zu 1
		encodings, _ := r.Get(KeyEncodings)
		for i, s := range encodings.SumRows(ctx).Floats() {
			if s != 1 {
				t.Fatalf("row %d: erwartet 1, bekommen %v", i, s)
			}
		}

		// Der Rueckgabewert ist exakt der naechste Codebook-Vektor
		nearest, err := q.DecodeIDs(ctx, ids)
		require.NoError(t, err)
		if diff := cmp.Diff(quantized.Floats(), nearest.Floats()); diff != "" {
			t.Errorf("train=%v: quantized mismatch (-got +want):\n%s", train, diff)
		}
	}
}

func TestVectorQuantizerLosses(t *testing.T) {
	ctx := cpu.NewContext(1)
	q := newVQ(t, ctx, 16, 3)
	x := randomFeatures(ctx, 9, 1, 4, 4, 3)

	_, r, err := q.Forward(ctx, x, true)
	require.NoError(t, err)

	get := func(key string) float32 {
		t.Helper()
		v, ok := r.Get(key)
		require.True(t, ok, key)
		if diff := cmp.Diff(v.Shape(), []int{1}); diff != "" {
			t.Fatalf("%s: shape mismatch (-got +want):\n%s", key, diff)
		}
		return v.Floats()[0]
	}

	e, ql, ent, total := get(KeyELatentLoss), get(KeyQLatentLoss), get(KeyEntropyLoss), get(KeyQuantizerLoss)
	assert.GreaterOrEqual(t, e, float32(0))
	assert.GreaterOrEqual(t, ql, float32(0))
	assert.InDelta(t, e+ql+ent, total, 1e-6)

	// Commitment-Verlust ist ein Viertel des Codebook-Verlusts
	assert.InDelta(t, ql*.25, e, 1e-6)
}

func TestVectorQuantizerNoEntropy(t *testing.T) {
	ctx := cpu.NewContext(1)
	opts := DefaultOptions()
	opts.CodebookSize, opts.EmbeddingDim, opts.EntropyLossRatio = 8, 2, 0

	q, err := NewVectorQuantizer(opts)
	require.NoError(t, err)
	require.NoError(t, q.Init(ctx, rand.New(rand.NewPCG(3, 3))))

	_, r, err := q.Forward(ctx, randomFeatures(ctx, 1, 1, 2, 2, 2), true)
	require.NoError(t, err)

	ent, _ := r.Get(KeyEntropyLoss)
	if diff := cmp.Diff(ent.Floats(), []float32{0}); diff != "" {
		t.Errorf("entropy mismatch (-got +want):\n%s", diff)
	}
}

func TestVectorQuantizerTies(t *testing.T) {
	ctx := cpu.NewContext(1)
	opts := DefaultOptions()
	opts.CodebookSize, opts.EmbeddingDim = 3, 1

	q, err := NewVectorQuantizer(opts)
	require.NoError(t, err)
	q.Embedding = ctx.FromFloats([]float32{1, -1, 1}, 3, 1)

	// 0 ist gleich weit von 1 und -1 entfernt, der erste Index gewinnt
	_, r, err := q.Forward(ctx, ctx.FromFloats([]float32{0, .9, -2}, 1, 1, 3, 1), false)
	require.NoError(t, err)

	ids, _ := r.Get(KeyEncodingIndices)
	if diff := cmp.Diff(ids.Ints(), []int32{0, 0, 1}); diff != "" {
		t.Errorf("ids mismatch (-got +want):\n%s", diff)
	}
}

func TestVectorQuantizerQuantize(t *testing.T) {
	ctx := cpu.NewContext(1)
	q := newVQ(t, ctx, 8, 2)

	ids := ctx.FromInts([]int32{7, 0, 3}, 3)
	direct, err := q.DecodeIDs(ctx, ids)
	require.NoError(t, err)

	viaOneHot, err := q.Quantize(ctx, ids.OneHot(ctx, 8))
	require.NoError(t, err)

	if diff := cmp.Diff(viaOneHot.Floats(), direct.Floats()); diff != "" {
		t.Errorf("quantize mismatch (-got +want):\n%s", diff)
	}

	_, err = q.DecodeIDs(ctx, ctx.FromInts([]int32{8}, 1))
	assert.ErrorIs(t, err, ErrIndexRange)

	_, err = q.Quantize(ctx, ctx.Zeros(ml.DTypeF32, 1, 4))
	assert.ErrorIs(t, err, ErrShape)

	_, _, err = q.Forward(ctx, ctx.Zeros(ml.DTypeF32, 1, 2, 2, 3), false)
	assert.ErrorIs(t, err, ErrShape)
}

func TestFiniteScalarQuantizer(t *testing.T) {
	ctx := cpu.NewContext(1)

	cases := [][]int{
		slices.Repeat([]int{2}, 10),
		{8, 5, 5, 5},
		{7, 3, 4},
	}

	for _, levels := range cases {
		opts := DefaultOptions()
		opts.Levels, opts.EmbeddingDim, opts.CodebookSize = levels, len(levels), 0

		q, err := NewFiniteScalarQuantizer(opts)
		require.NoError(t, err)

		size := 1
		for _, l := range levels {
			size *= l
		}
		assert.Equal(t, size, q.CodebookSize())

		x := randomFeatures(ctx, 11, 2, 4, 4, len(levels)).Scale(ctx, 3)
		quantized, r, err := q.Forward(ctx, x, false)
		require.NoError(t, err)

		ids, _ := r.Get(KeyEncodingIndices)
		for i, id := range ids.Ints() {
			if id < 0 || int(id) >= size {
				t.Fatalf("%v: ids[%d] erwartet [0, %d), bekommen %d", levels, i, size, id)
			}
		}

		// Index und Code sind zueinander invers
		decoded, err := q.DecodeIDs(ctx, ids)
		require.NoError(t, err)
		if diff := cmp.Diff(decoded.Floats(), quantized.Floats()); diff != "" {
			t.Errorf("%v: decode mismatch (-got +want):\n%s", levels, diff)
		}

		all := ctx.Arange(0, float32(size), 1, ml.DTypeI32)
		codes, err := q.DecodeIDs(ctx, all)
		require.NoError(t, err)
		if diff := cmp.Diff(q.Indices(ctx, codes).Ints(), all.Ints()); diff != "" {
			t.Errorf("%v: index mismatch (-got +want):\n%s", levels, diff)
		}

		if diff := cmp.Diff(q.Codebook(ctx).Floats(), codes.Floats()); diff != "" {
			t.Errorf("%v: codebook mismatch (-got +want):\n%s", levels, diff)
		}
	}
}

func TestFiniteScalarQuantizerTrain(t *testing.T) {
	ctx := cpu.NewContext(1)
	q, err := New("fsq", DefaultOptions())
	require.NoError(t, err)

	_, r, err := q.Forward(ctx, randomFeatures(ctx, 2, 1, 2, 2, 10), true)
	require.NoError(t, err)

	for _, key := range []string{KeyQuantizerLoss, KeyELatentLoss, KeyQLatentLoss, KeyEntropyLoss} {
		v, ok := r.Get(key)
		require.True(t, ok, key)
		if diff := cmp.Diff(v.Floats(), []float32{0}); diff != "" {
			t.Errorf("%s mismatch (-got +want):\n%s", key, diff)
		}
	}

	encodings, _ := r.Get(KeyEncodings)
	if diff := cmp.Diff(encodings.Shape(), []int{1, 2, 2, 1024}); diff != "" {
		t.Errorf("encodings shape mismatch (-got +want):\n%s", diff)
	}
}

func TestFiniteScalarQuantizerConfig(t *testing.T) {
	opts := DefaultOptions()
	opts.EmbeddingDim = 4
	_, err := NewFiniteScalarQuantizer(opts)
	assert.ErrorIs(t, err, ErrConfig)

	opts.Levels, opts.EmbeddingDim = []int{1, 2}, 2
	_, err = NewFiniteScalarQuantizer(opts)
	assert.ErrorIs(t, err, ErrConfig)

	// Codebook-Groesse muss zu den Stufen passen
	opts = DefaultOptions()
	opts.CodebookSize = 64
	_, err = NewFiniteScalarQuantizer(opts)
	assert.ErrorIs(t, err, ErrConfig)

	opts.Levels, opts.EmbeddingDim, opts.CodebookSize = []int{4, 4, 4}, 3, 64
	q, err := NewFiniteScalarQuantizer(opts)
	require.NoError(t, err)
	assert.Equal(t, 64, q.CodebookSize())
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"fsq", "vq"}, Names())

	_, err := New("rvq", DefaultOptions())
	var re *RegistryError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "create", re.Op)
	assert.ErrorIs(t, err, ErrNotRegistered)

	opts := DefaultOptions()
	opts.CodebookSize = 0
	_, err = New("vq", opts)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels("8, 5,5,5")
	require.NoError(t, err)
	if diff := cmp.Diff(levels, []int{8, 5, 5, 5}); diff != "" {
		t.Errorf("levels mismatch (-got +want):\n%s", diff)
	}

	_, err = ParseLevels("8,x")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRecordNil(t *testing.T) {
	var r *Record
	assert.Equal(t, 0, r.Len())
	_, ok := r.Get(KeyRaw)
	assert.False(t, ok)
}
