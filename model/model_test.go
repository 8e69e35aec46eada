package model

import (
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/vqtok/fs"
	"github.com/ollama/vqtok/fs/gguf"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
)

func TestParseTags(t *testing.T) {
	cases := []struct {
		value string
		want  Tag
	}{
		{
			value: "conv_in",
			want:  Tag{name: "conv_in"},
		},
		{
			value: "shortcut,alt:nin_shortcut",
			want:  Tag{name: "shortcut", alternatives: []string{"nin_shortcut"}},
		},
		{
			value: "down,pre:enc_",
			want:  Tag{name: "down", prefix: "enc_"},
		},
	}

	for _, tt := range cases {
		t.Run(tt.value, func(t *testing.T) {
			got := parseTag(tt.value)
			if diff := cmp.Diff(got, tt.want, cmp.AllowUnexported(Tag{})); diff != "" {
				t.Errorf("parseTag() mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

type fakeBlock struct {
	Conv *nn.Conv2D `gguf:"conv"`
	Norm *nn.Norm   `gguf:"norm"`
}

type fakeModel struct {
	Base

	Blocks []fakeBlock `gguf:"blk"`
	Out    *nn.Conv2D  `gguf:"out,alt:conv_out"`
	IDs    ml.Tensor   `gguf:"ids"`
}

func (m *fakeModel) Init(ctx ml.Context, rng *rand.Rand) error {
	for i := range m.Blocks {
		m.Blocks[i].Conv = &nn.Conv2D{}
		m.Blocks[i].Conv.Init(ctx, rng, 3, 3, 2, 2, false)
		m.Blocks[i].Norm = &nn.Norm{}
		m.Blocks[i].Norm.Init(ctx, nn.GroupNorm, 2)
	}

	m.Out = &nn.Conv2D{}
	m.Out.Init(ctx, rng, 1, 1, 2, 3, true)
	m.IDs = ctx.FromInts([]int32{3, 1, 2}, 3)
	return nil
}

func (m *fakeModel) Validate() error {
	for _, b := range m.Blocks {
		if b.Conv == nil || b.Norm == nil {
			return errors.New("missing block")
		}
		if err := nn.CheckShape("conv", b.Conv.Weight, 3, 3, 2, 2); err != nil {
			return err
		}
	}

	if m.Out == nil {
		return errors.New("missing out")
	}
	return nn.CheckShape("out", m.Out.Weight, 1, 1, 2, 3)
}

func init() {
	Register("fake", func(c fs.Config) (Model, error) {
		return &fakeModel{Blocks: make([]fakeBlock, c.Uint("block_count"))}, nil
	})
}

func fakeConfig() gguf.KV {
	return gguf.KV{
		"general.architecture": "fake",
		"fake.block_count":     uint32(2),
	}
}

func TestTensorNames(t *testing.T) {
	m, err := NewInit(fakeConfig(), 1, ml.BackendParams{})
	require.NoError(t, err)

	tensors, err := Tensors(m)
	require.NoError(t, err)

	var names []string
	for name := range tensors {
		names = append(names, name)
	}

	want := []string{
		"blk.0.conv.weight", "blk.0.norm.bias", "blk.0.norm.weight",
		"blk.1.conv.weight", "blk.1.norm.bias", "blk.1.norm.weight",
		"ids", "out.bias", "out.weight",
	}
	assert.ElementsMatch(t, want, names)
}

func TestSaveLoad(t *testing.T) {
	m, err := NewInit(fakeConfig(), 7, ml.BackendParams{})
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "fake.gguf")
	require.NoError(t, Save(p, m, SaveOptions{}))

	loaded, err := New(p, ml.BackendParams{})
	require.NoError(t, err)
	defer loaded.Backend().Close()

	if diff := cmp.Diff(loaded.Config().Uint("block_count"), uint32(2)); diff != "" {
		t.Errorf("block_count mismatch (-got +want):\n%s", diff)
	}

	want, err := Tensors(m)
	require.NoError(t, err)
	got, err := Tensors(loaded)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	for name, w := range want {
		g, ok := got[name]
		if !ok {
			t.Errorf("erwartet Tensor %s, nicht gefunden", name)
			continue
		}

		if diff := cmp.Diff(g.Shape(), w.Shape()); diff != "" {
			t.Errorf("%s: shape mismatch (-got +want):\n%s", name, diff)
		}

		if w.DType() == ml.DTypeI32 {
			if diff := cmp.Diff(g.Ints(), w.Ints()); diff != "" {
				t.Errorf("%s: mismatch (-got +want):\n%s", name, diff)
			}
		} else if diff := cmp.Diff(g.Floats(), w.Floats()); diff != "" {
			t.Errorf("%s: mismatch (-got +want):\n%s", name, diff)
		}
	}
}

func TestNewInitDeterministic(t *testing.T) {
	a, err := NewInit(fakeConfig(), 3, ml.BackendParams{})
	require.NoError(t, err)
	b, err := NewInit(fakeConfig(), 3, ml.BackendParams{})
	require.NoError(t, err)

	wa := a.(*fakeModel).Blocks[1].Conv.Weight.Floats()
	wb := b.(*fakeModel).Blocks[1].Conv.Weight.Floats()
	if diff := cmp.Diff(wa, wb); diff != "" {
		t.Errorf("seed mismatch (-got +want):\n%s", diff)
	}
}

func TestUnsupportedModel(t *testing.T) {
	_, err := NewInit(gguf.KV{"general.architecture": "nope"}, 1, ml.BackendParams{})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
	assert.Contains(t, Architectures(), "fake")
}

func TestValidateMissingTensor(t *testing.T) {
	m, err := NewInit(fakeConfig(), 1, ml.BackendParams{})
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "fake.gguf")
	require.NoError(t, Save(p, m, SaveOptions{}))

	// Mehr Bloecke als im Checkpoint vorhanden
	kv := fakeConfig()
	kv["fake.block_count"] = uint32(3)
	m.(*fakeModel).Base.config = kv
	require.NoError(t, Save(p, m, SaveOptions{}))

	_, err = New(p, ml.BackendParams{})
	assert.Error(t, err)
}
