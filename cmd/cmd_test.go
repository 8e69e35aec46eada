package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/vqtok/codes"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
	"github.com/ollama/vqtok/model/models/maskgit"
	"github.com/ollama/vqtok/store"
)

// run fuehrt die CLI mit args aus und liefert die Ausgabe
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := NewCLI()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x * 16), 64, uint8(y * 16), 255})
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func initTiny(t *testing.T, dir string) string {
	t.Helper()

	ckpt := filepath.Join(dir, "tiny.gguf")
	out, err := run(t, "init", ckpt,
		"--filters", "8",
		"--groups", "4",
		"--multipliers", "1,2",
		"--res-blocks", "1",
		"--quantizer", "vq",
		"--codebook-size", "16",
		"--seed", "3",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "16 codes, downsampling 2")
	return ckpt
}

func TestInitShow(t *testing.T) {
	ckpt := initTiny(t, t.TempDir())

	m, err := maskgit.Load(ckpt, ml.BackendParams{NumThreads: 2})
	require.NoError(t, err)
	t.Cleanup(m.Backend().Close)

	o := m.Options()
	assert.Equal(t, 8, o.Filters)
	assert.Equal(t, "vq", o.Quantizer)
	if diff := cmp.Diff(o.ChannelMultipliers, []int{1, 2}); diff != "" {
		t.Errorf("multipliers mismatch (-got +want):\n%s", diff)
	}

	out, err := run(t, "show", ckpt)
	require.NoError(t, err)
	assert.Contains(t, out, "maskgit")
	assert.Contains(t, out, "codebook_size")
	assert.NotContains(t, out, "enc.conv_in.weight")

	out, err = run(t, "show", "--tensors", ckpt)
	require.NoError(t, err)
	assert.Contains(t, out, "enc.conv_in.weight")
	assert.Contains(t, out, "quantizer.codebook")
	assert.Contains(t, out, "(16, 10)")
}

func TestEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	ckpt := initTiny(t, dir)

	src := filepath.Join(dir, "cat.png")
	writeTestPNG(t, src, 16, 12)

	out, err := run(t, "encode", src, "-m", ckpt, "--compression", "lz4", "--stats", "--dump")
	require.NoError(t, err)
	assert.Contains(t, out, "cat.vqt")
	assert.Contains(t, out, "Usage")
	assert.Contains(t, out, "Top codes")

	tokens, err := codes.ReadFile(filepath.Join(dir, "cat.vqt"))
	require.NoError(t, err)
	if diff := cmp.Diff(tokens.Shape, []int{1, 6, 8}); diff != "" {
		t.Errorf("shape mismatch (-got +want):\n%s", diff)
	}
	assert.Equal(t, 16, tokens.CodebookSize)

	dst := filepath.Join(dir, "decoded.png")
	_, err = run(t, "decode", filepath.Join(dir, "cat.vqt"), dst, "-m", ckpt)
	require.NoError(t, err)

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())

	out, err = run(t, "reconstruct", src, "-m", ckpt)
	require.NoError(t, err)
	assert.Contains(t, out, "48 tokens")
	assert.FileExists(t, filepath.Join(dir, "cat.recon.png"))
}

func TestEncodeErrors(t *testing.T) {
	dir := t.TempDir()
	ckpt := initTiny(t, dir)

	src := filepath.Join(dir, "img.png")
	writeTestPNG(t, src, 16, 16)

	t.Setenv("VQTOK_MODEL", filepath.Join(dir, "missing.gguf"))
	_, err := run(t, "encode", src)
	require.Error(t, err)

	_, err = run(t, "encode", src, "-m", ckpt, "--compression", "brotli")
	require.Error(t, err)

	_, err = run(t, "encode", filepath.Join(dir, "missing.png"), "-m", ckpt)
	require.Error(t, err)

	// Tokens fuer ein anderes Codebook werden abgelehnt
	other, err := codes.New([]int32{0, 1, 2, 3}, 4096, 1, 2, 2)
	require.NoError(t, err)
	require.NoError(t, codes.WriteFile(filepath.Join(dir, "other.vqt"), other, codes.CompressionNone))

	_, err = run(t, "decode", filepath.Join(dir, "other.vqt"), "-m", ckpt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4096 codes")
}

func TestModelOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cmd := newInitCmd()
		require.NoError(t, cmd.ParseFlags(nil))

		opts, err := modelOptions(cmd, true)
		require.NoError(t, err)

		if diff := cmp.Diff(maskgit.NewOptions(opts...), maskgit.DefaultOptions()); diff != "" {
			t.Errorf("options mismatch (-got +want):\n%s", diff)
		}
	})

	t.Run("changed only", func(t *testing.T) {
		cmd := newConvertCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--levels", "8,5,5,5", "--norm", "BN", "--upsample", "bilinear"}))

		opts, err := modelOptions(cmd, false)
		require.NoError(t, err)
		assert.Len(t, opts, 3)

		o := maskgit.NewOptions(opts...)
		assert.Equal(t, nn.BatchNorm, o.NormType)
		assert.Equal(t, 0, o.NormGroups)
		assert.Equal(t, ml.SamplingModeBilinear, o.Upsample)
		assert.Equal(t, []int{8, 5, 5, 5}, o.QuantizerOptions.Levels)
	})

	t.Run("embedding dim sets fsq levels", func(t *testing.T) {
		cmd := newInitCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--embedding-dim", "4"}))

		opts, err := modelOptions(cmd, true)
		require.NoError(t, err)

		o := maskgit.NewOptions(opts...)
		require.NoError(t, o.Validate())
		assert.Equal(t, []int{2, 2, 2, 2}, o.QuantizerOptions.Levels)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, args := range [][]string{
			{"--norm", "XN"},
			{"--upsample", "cubic"},
		} {
			cmd := newInitCmd()
			require.NoError(t, cmd.ParseFlags(args))

			if _, err := modelOptions(cmd, false); err == nil {
				t.Errorf("erwartet Fehler fuer %v", args)
			}
		}
	})
}

func TestCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	t.Setenv("VQTOK_STORE", path)

	st, err := store.Open(path)
	require.NoError(t, err)

	tokens, err := codes.New([]int32{1, 2, 3, 4}, 16, 1, 2, 2)
	require.NoError(t, err)

	e, err := st.Put(context.Background(), "sha256:aaaaaaaaaaaaaaaaaaaa", store.Digest([]byte("img")), maskgit.Architecture, tokens)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := run(t, "cache", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, e.ID)
	assert.Contains(t, out, "aaaaaaaaaaaa")
	assert.Contains(t, out, "1x2x2")

	out, err = run(t, "cache", "ls", "sha256:other")
	require.NoError(t, err)
	assert.NotContains(t, out, e.ID)

	out, err = run(t, "cache", "rm", e.ID)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "deleted"))

	_, err = run(t, "cache", "rm", e.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("erwartet ErrNotFound, bekommen %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "a/b.vqt", outputPath([]string{"a/b.png"}, ".vqt"))
	assert.Equal(t, "x.png", outputPath([]string{"a/b.vqt", "x.png"}, ".png"))
	assert.Equal(t, "noext.recon.png", outputPath([]string{"noext"}, ".recon.png"))
}
