package maskgit

import (
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
	"github.com/ollama/vqtok/model"
	"github.com/ollama/vqtok/model/quantizer"
)

func tinyOptions(extra ...Option) []Option {
	return append([]Option{
		WithFilters(8),
		WithNorm(nn.GroupNorm, 4),
		WithChannelMultipliers(1, 1, 2, 2, 4),
		WithNumResBlocks(1),
	}, extra...)
}

// quantizerOptions setzt fuer vq ein kleines Codebook
func quantizerOptions(q string, size int) []Option {
	opts := []Option{WithQuantizer(q)}
	if q == "vq" {
		opts = append(opts, WithCodebookSize(size))
	}
	return opts
}

func newTiny(t *testing.T, extra ...Option) *Model {
	t.Helper()

	m, err := NewInit(42, ml.BackendParams{NumThreads: 2}, tinyOptions(extra...)...)
	require.NoError(t, err)
	return m
}

func randomImage(ctx ml.Context, seed uint64, shape ...int) ml.Tensor {
	r := rand.New(rand.NewPCG(seed, 1))
	n := 1
	for _, d := range shape {
		n *= d
	}

	fs := make([]float32, n)
	for i := range fs {
		fs[i] = r.Float32()
	}
	return ctx.FromFloats(fs, shape...)
}

func TestShapeInvariance(t *testing.T) {
	for _, q := range []string{"fsq", "vq"} {
		t.Run(q, func(t *testing.T) {
			m := newTiny(t, quantizerOptions(q, 64)...)
			ctx := m.Backend().NewContext()

			image := randomImage(ctx, 1, 2, 32, 16, 3)
			out, err := m.Forward(ctx, image)
			require.NoError(t, err)

			if diff := cmp.Diff(out.Shape(), []int{2, 32, 16, 3}); diff != "" {
				t.Fatalf("shape mismatch (-got +want):\n%s", diff)
			}

			for i, v := range out.Floats() {
				if v < 0 || v > 1 {
					t.Fatalf("out[%d]: erwartet [0, 1], bekommen %v", i, v)
				}
			}

			ids, err := m.EncodeToIndices(ctx, image)
			require.NoError(t, err)
			if diff := cmp.Diff(ids.Shape(), []int{2, 2, 1}); diff != "" {
				t.Errorf("ids shape mismatch (-got +want):\n%s", diff)
			}

			size := m.Quantizer.CodebookSize()
			for i, id := range ids.Ints() {
				if id < 0 || int(id) >= size {
					t.Fatalf("ids[%d]: erwartet [0, %d), bekommen %d", i, size, id)
				}
			}
		})
	}
}

func TestDecodeFromIndices(t *testing.T) {
	for _, q := range []string{"fsq", "vq"} {
		t.Run(q, func(t *testing.T) {
			m := newTiny(t, WithQuantizer(q), WithChannelMultipliers(1, 2, 2))
			ctx := m.Backend().NewContext()

			ids, err := m.EncodeToIndices(ctx, randomImage(ctx, 2, 1, 16, 16, 3))
			require.NoError(t, err)

			direct, err := m.DecodeFromIndices(ctx, ids)
			require.NoError(t, err)

			features, err := m.Quantizer.Quantize(ctx, ids.OneHot(ctx, m.Quantizer.CodebookSize()))
			require.NoError(t, err)
			viaOneHot, err := m.Decode(ctx, features)
			require.NoError(t, err)

			if diff := cmp.Diff(direct.Floats(), viaOneHot.Floats()); diff != "" {
				t.Errorf("decode mismatch (-got +want):\n%s", diff)
			}

			r := quantizer.NewRecord()
			r.Set(quantizer.KeyEncodingIndices, ids)
			fromRecord, err := m.DecodeFromIndices(ctx, r)
			require.NoError(t, err)
			if diff := cmp.Diff(fromRecord.Floats(), direct.Floats()); diff != "" {
				t.Errorf("record mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestEncodeRecordInput(t *testing.T) {
	m := newTiny(t, WithChannelMultipliers(1, 2))
	ctx := m.Backend().NewContext()
	image := randomImage(ctx, 3, 1, 8, 8, 3)

	want, err := m.EncodeToIndices(ctx, image)
	require.NoError(t, err)

	r := quantizer.NewRecord()
	r.Set(quantizer.KeyImage, image)
	got, err := m.EncodeToIndices(ctx, r)
	require.NoError(t, err)

	if diff := cmp.Diff(got.Ints(), want.Ints()); diff != "" {
		t.Errorf("ids mismatch (-got +want):\n%s", diff)
	}

	_, err = m.EncodeToIndices(ctx, "image.png")
	assert.ErrorIs(t, err, ErrInput)

	_, err = m.EncodeToIndices(ctx, quantizer.NewRecord())
	assert.ErrorIs(t, err, ErrInput)

	_, err = m.DecodeFromIndices(ctx, 42)
	assert.ErrorIs(t, err, ErrInput)

	_, err = m.EncodeToIndices(ctx, ctx.Zeros(ml.DTypeF32, 1, 8, 8, 4))
	assert.ErrorIs(t, err, ErrShape)

	_, err = m.DecodeFromIndices(ctx, ctx.FromInts([]int32{-1}, 1, 1, 1))
	assert.ErrorIs(t, err, quantizer.ErrIndexRange)
}

func TestDeterminism(t *testing.T) {
	a := newTiny(t, WithQuantizer("vq"), WithChannelMultipliers(1, 2))
	b := newTiny(t, WithQuantizer("vq"), WithChannelMultipliers(1, 2))

	ctx := a.Backend().NewContext()
	image := randomImage(ctx, 4, 2, 8, 8, 3)

	first, err := a.Forward(ctx, image)
	require.NoError(t, err)
	second, err := a.Forward(ctx, image)
	require.NoError(t, err)
	other, err := b.Forward(b.Backend().NewContext(), image)
	require.NoError(t, err)

	if diff := cmp.Diff(second.Floats(), first.Floats()); diff != "" {
		t.Errorf("repeat mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(other.Floats(), first.Floats()); diff != "" {
		t.Errorf("seed mismatch (-got +want):\n%s", diff)
	}
}

func TestResBlock(t *testing.T) {
	m := newTiny(t, WithChannelMultipliers(1, 2))
	ctx := m.Backend().NewContext()
	opts := m.opts

	branch := func(b *ResBlock, x ml.Tensor) ml.Tensor {
		act := opts.activation()
		x = b.Conv1.Forward(ctx, act(ctx, b.Norm1.Forward(ctx, x, opts.norm())), 1, 1)
		return b.Conv2.Forward(ctx, act(ctx, b.Norm2.Forward(ctx, x, opts.norm())), 1, 1)
	}

	// Gleiche Kanalzahl: Ausgabe = Zweig + Eingabe
	identity := &m.Encoder.Stages[0].Blocks[0]
	require.Nil(t, identity.Shortcut)

	x := randomImage(ctx, 5, 1, 4, 4, 8)
	want := branch(identity, x).Add(ctx, x)
	if diff := cmp.Diff(identity.Forward(ctx, x, opts).Floats(), want.Floats()); diff != "" {
		t.Errorf("identity mismatch (-got +want):\n%s", diff)
	}

	// Kanalwechsel: der Shortcut projiziert die Ausgabe des Zweigs
	projected := &m.Encoder.Stages[1].Blocks[0]
	require.NotNil(t, projected.Shortcut)
	if diff := cmp.Diff(projected.Shortcut.Weight.Shape(), []int{1, 1, 16, 16}); diff != "" {
		t.Errorf("shortcut shape mismatch (-got +want):\n%s", diff)
	}

	h := branch(projected, x)
	want = h.Add(ctx, projected.Shortcut.Forward(ctx, h, 1, 1))
	if diff := cmp.Diff(projected.Forward(ctx, x, opts).Floats(), want.Floats()); diff != "" {
		t.Errorf("shortcut mismatch (-got +want):\n%s", diff)
	}
}

func TestTrainRecord(t *testing.T) {
	m := newTiny(t, WithQuantizer("vq"), WithChannelMultipliers(1, 2), WithTrain(true))
	ctx := m.Backend().NewContext()

	_, r, err := m.Encode(ctx, randomImage(ctx, 6, 1, 8, 8, 3))
	require.NoError(t, err)

	want := []string{
		quantizer.KeyQuantizerLoss, quantizer.KeyELatentLoss, quantizer.KeyQLatentLoss, quantizer.KeyEntropyLoss,
		quantizer.KeyEncodings, quantizer.KeyEncodingIndices, quantizer.KeyRaw,
	}
	if diff := cmp.Diff(r.Keys(), want); diff != "" {
		t.Errorf("keys mismatch (-got +want):\n%s", diff)
	}

	m.SetTrain(false)
	_, r, err = m.Encode(ctx, randomImage(ctx, 6, 1, 8, 8, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
}

func TestVariants(t *testing.T) {
	cases := map[string][]Option{
		"conv downsample": {WithConvDownsample(true)},
		"batch norm":      {WithNorm(nn.BatchNorm, 0)},
		"layer norm":      {WithNorm(nn.LayerNorm, 0), WithActivation("relu")},
		"bilinear":        {WithUpsample(ml.SamplingModeBilinear), WithConvShortcut(true)},
	}

	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			m := newTiny(t, append([]Option{WithChannelMultipliers(1, 2, 2)}, extra...)...)
			ctx := m.Backend().NewContext()

			out, err := m.Forward(ctx, randomImage(ctx, 7, 1, 8, 8, 3))
			require.NoError(t, err)
			if diff := cmp.Diff(out.Shape(), []int{1, 8, 8, 3}); diff != "" {
				t.Errorf("shape mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	for _, q := range []string{"fsq", "vq"} {
		t.Run(q, func(t *testing.T) {
			m := newTiny(t, append(quantizerOptions(q, 32), WithChannelMultipliers(1, 2), WithConvDownsample(true))...)

			p := filepath.Join(t.TempDir(), "tok.gguf")
			require.NoError(t, model.Save(p, m, model.SaveOptions{}))

			loaded, err := Load(p, ml.BackendParams{})
			require.NoError(t, err)
			defer loaded.Backend().Close()

			if diff := cmp.Diff(loaded.Options(), m.Options()); diff != "" {
				t.Errorf("options mismatch (-got +want):\n%s", diff)
			}

			want, err := model.Tensors(m)
			require.NoError(t, err)
			got, err := model.Tensors(loaded)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for name, w := range want {
				if diff := cmp.Diff(got[name].Floats(), w.Floats()); diff != "" {
					t.Errorf("%s mismatch (-got +want):\n%s", name, diff)
				}
			}

			ctx := m.Backend().NewContext()
			image := randomImage(ctx, 8, 1, 8, 8, 3)
			a, err := m.Forward(ctx, image)
			require.NoError(t, err)
			b, err := loaded.Forward(loaded.Backend().NewContext(), image)
			require.NoError(t, err)
			if diff := cmp.Diff(b.Floats(), a.Floats()); diff != "" {
				t.Errorf("forward mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestSaveF16(t *testing.T) {
	m := newTiny(t, WithQuantizer("vq"), WithCodebookSize(16), WithChannelMultipliers(1, 2))

	p := filepath.Join(t.TempDir(), "tok.gguf")
	require.NoError(t, model.Save(p, m, model.SaveOptions{F16: true}))

	loaded, err := Load(p, ml.BackendParams{})
	require.NoError(t, err)
	defer loaded.Backend().Close()

	// Das Codebook bleibt exakt
	ctx := loaded.Backend().NewContext()
	if diff := cmp.Diff(loaded.Codebook(ctx).Floats(), m.Codebook(ctx).Floats()); diff != "" {
		t.Errorf("codebook mismatch (-got +want):\n%s", diff)
	}

	w := m.Encoder.ConvIn.Weight.Floats()
	for i, v := range loaded.Encoder.ConvIn.Weight.Floats() {
		assert.InDelta(t, w[i], v, 1e-3)
	}
}

func TestValidate(t *testing.T) {
	m := newTiny(t, WithChannelMultipliers(1, 2))
	require.NoError(t, m.Validate())

	ctx := m.Backend().NewContext()
	weight := m.Decoder.ConvOut.Weight

	m.Decoder.ConvOut.Weight = ctx.Zeros(ml.DTypeF32, 3, 3, 8, 4)
	assert.ErrorIs(t, m.Validate(), ErrShape)

	m.Decoder.ConvOut.Weight = nil
	assert.ErrorIs(t, m.Validate(), ErrMissingTensor)

	m.Decoder.ConvOut.Weight = weight
	m.Encoder.Mid[0].Shortcut = &nn.Conv2D{Weight: ctx.Zeros(ml.DTypeF32, 1, 1, 16, 16)}
	assert.ErrorIs(t, m.Validate(), ErrShape)
}

func TestOptions(t *testing.T) {
	o := NewOptions(WithFilters(16), WithNorm(nn.GroupNorm, 4), WithQuantizer("vq"), WithLevels(8, 5, 5), WithEmbeddingDim(3), WithUpsample(ml.SamplingModeBilinear))
	require.NoError(t, o.Validate())

	got := optionsFromConfig(o.KV())
	if diff := cmp.Diff(got, o); diff != "" {
		t.Errorf("options mismatch (-got +want):\n%s", diff)
	}

	d := DefaultOptions()
	assert.Equal(t, 16, d.Downsampling())

	cases := map[string]Option{
		"groups":     WithNorm(nn.GroupNorm, 5),
		"norm":       WithNorm("XN", 0),
		"activation": WithActivation("mish"),
		"blocks":     WithNumResBlocks(0),
		"mult":       WithChannelMultipliers(),
		"upsample":   WithUpsample(ml.SamplingMode(7)),
	}
	for name, opt := range cases {
		o := NewOptions(opt)
		if err := o.Validate(); !errors.Is(err, ErrConfig) {
			t.Errorf("%s: erwartet ErrConfig, bekommen %v", name, err)
		}
	}

	// unbekannter Upsampling-Modus im Checkpoint
	kv := o.KV()
	kv[Architecture+".upsample"] = "bicubic"
	_, err := New(kv)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewInit(1, ml.BackendParams{}, WithFilters(8), WithNorm(nn.GroupNorm, 4), WithQuantizer("rvq"))
	assert.ErrorIs(t, err, quantizer.ErrNotRegistered)
}

func TestCodebookSize(t *testing.T) {
	cases := []struct {
		opts []Option
		want int
	}{
		{nil, 1024},
		{[]Option{WithQuantizer("vq")}, 1024},
		{[]Option{WithQuantizer("vq"), WithCodebookSize(64)}, 64},
		{[]Option{WithLevels(8, 5, 5, 5), WithEmbeddingDim(4)}, 1000},
		{[]Option{WithCodebookSize(16), WithLevels(4, 4), WithEmbeddingDim(2)}, 16},
	}

	for _, tt := range cases {
		o := NewOptions(tt.opts...)
		if o.QuantizerOptions.CodebookSize != tt.want {
			t.Errorf("erwartet %d codes, bekommen %d", tt.want, o.QuantizerOptions.CodebookSize)
		}
	}

	m := newTiny(t, WithLevels(8, 5, 5, 5), WithEmbeddingDim(4))
	assert.Equal(t, 1000, m.Quantizer.CodebookSize())

	// fsq mit abweichender Groesse wird abgelehnt
	_, err := NewInit(1, ml.BackendParams{}, tinyOptions(WithCodebookSize(64))...)
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, err, quantizer.ErrConfig)
}
