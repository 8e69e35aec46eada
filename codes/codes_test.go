package codes

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/vqtok/ml/backend/cpu"
)

func sequence(n, codebookSize int) []int32 {
	ids := make([]int32, n)
	for i := range ids {
		ids[i] = int32((i * 7) % codebookSize)
	}
	return ids
}

func encode(t *testing.T, tok *Tokens, c Compression) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tok, c))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name         string
		codebookSize int
		shape        []int
	}{
		{"vq", 1024, []int{2, 4, 3}},
		{"fsq", 1 << 10, []int{1, 2, 2}},
		{"wide", 1 << 20, []int{1, 8, 8}},
		{"single", 1, []int{1, 1, 1}},
	}

	for _, tt := range cases {
		for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
			t.Run(tt.name+"/"+c.String(), func(t *testing.T) {
				n := 1
				for _, d := range tt.shape {
					n *= d
				}

				tok, err := New(sequence(n, tt.codebookSize), tt.codebookSize, tt.shape...)
				require.NoError(t, err)

				got, err := Decode(bytes.NewReader(encode(t, tok, c)))
				require.NoError(t, err)

				if diff := cmp.Diff(got, tok); diff != "" {
					t.Errorf("tokens mismatch (-got +want):\n%s", diff)
				}
			})
		}
	}
}

func TestWidth(t *testing.T) {
	assert.Equal(t, 2, (&Tokens{CodebookSize: 1024}).Width())
	assert.Equal(t, 2, (&Tokens{CodebookSize: 1 << 16}).Width())
	assert.Equal(t, 4, (&Tokens{CodebookSize: 1<<16 + 1}).Width())
}

func TestHeader(t *testing.T) {
	tok, err := New([]int32{1, 2, 3, 4}, 1024, 1, 2, 2)
	require.NoError(t, err)

	b := encode(t, tok, CompressionNone)

	// magic + version + compression + width + codebook + rank + 3 dims + len + payload + checksum
	want := 4 + 2 + 1 + 1 + 4 + 1 + 3*4 + 4 + 4*2 + 8
	assert.Len(t, b, want)
	assert.Equal(t, []byte("VQTK"), b[:4])
	assert.Equal(t, []byte{1, 0}, b[4:6])
	assert.Equal(t, byte(2), b[7], "breite")
}

func TestCorruption(t *testing.T) {
	tok, err := New(sequence(64, 1024), 1024, 1, 8, 8)
	require.NoError(t, err)

	t.Run("magic", func(t *testing.T) {
		b := encode(t, tok, CompressionNone)
		b[0] = 'X'
		_, err := Decode(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrMagic)
	})

	t.Run("version", func(t *testing.T) {
		b := encode(t, tok, CompressionNone)
		b[4] = 9
		_, err := Decode(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrVersion)
	})

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run("payload/"+c.String(), func(t *testing.T) {
			b := encode(t, tok, c)
			// letztes Payload-Byte vor der Checksumme
			b[len(b)-9] ^= 0x01
			_, err := Decode(bytes.NewReader(b))
			assert.ErrorIs(t, err, ErrChecksum)
		})
	}

	t.Run("checksum", func(t *testing.T) {
		b := encode(t, tok, CompressionZstd)
		b[len(b)-1] ^= 0xff
		_, err := Decode(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("truncated", func(t *testing.T) {
		b := encode(t, tok, CompressionNone)
		_, err := Decode(bytes.NewReader(b[:len(b)-4]))
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrMagic)
	})
}

func TestIndexRange(t *testing.T) {
	_, err := New([]int32{0, 1024}, 1024, 1, 1, 2)
	assert.ErrorIs(t, err, ErrIndexRange)

	_, err = New([]int32{-1}, 1024, 1, 1, 1)
	assert.ErrorIs(t, err, ErrIndexRange)

	// Codebook-Groesse im Header kleiner als die gespeicherten Indizes
	tok, err := New([]int32{5, 6}, 1024, 1, 1, 2)
	require.NoError(t, err)

	b := encode(t, tok, CompressionNone)
	b[8], b[9] = 4, 0
	_, err = Decode(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrIndexRange)
}

func TestShapeMismatch(t *testing.T) {
	_, err := New([]int32{1, 2, 3}, 1024, 1, 2, 2)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = New(nil, 1024)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = New([]int32{1}, 0, 1)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bild.vqt")

	tok, err := New(sequence(16, 512), 512, 1, 4, 4)
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, tok, CompressionZstd))

	got, err := ReadFile(path)
	require.NoError(t, err)

	if diff := cmp.Diff(got, tok); diff != "" {
		t.Errorf("tokens mismatch (-got +want):\n%s", diff)
	}
}

func TestTensor(t *testing.T) {
	ctx := cpu.NewContext(1)
	defer ctx.Close()

	ids := ctx.FromInts([]int32{3, 1, 4, 1, 5, 9}, 1, 2, 3)
	tok, err := FromTensor(ids, 16)
	require.NoError(t, err)

	if diff := cmp.Diff(tok.Shape, []int{1, 2, 3}); diff != "" {
		t.Errorf("shape mismatch (-got +want):\n%s", diff)
	}

	back := tok.Tensor(ctx)
	if diff := cmp.Diff(back.Ints(), ids.Ints()); diff != "" {
		t.Errorf("indices mismatch (-got +want):\n%s", diff)
	}

	_, err = FromTensor(ctx.FromFloats([]float32{1}, 1), 16)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func TestUsage(t *testing.T) {
	bm, ratio := Usage([]int32{1, 1, 3, 7, 3}, 8)
	assert.Equal(t, []uint32{1, 3, 7}, bm.ToArray())
	assert.InDelta(t, 3.0/8.0, ratio, 1e-12)

	_, ratio = Usage(nil, 0)
	assert.Zero(t, ratio)
}

func TestHistogram(t *testing.T) {
	got := Histogram([]int32{4, 2, 2, 9, 4, 2}, 2)
	want := []Count{{ID: 2, N: 3}, {ID: 4, N: 2}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("histogram mismatch (-got +want):\n%s", diff)
	}
}
