package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/vqtok/api"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
	"github.com/ollama/vqtok/model/models/maskgit"
	"github.com/ollama/vqtok/store"
	"github.com/ollama/vqtok/version"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, st *store.Store) *Server {
	t.Helper()

	m, err := maskgit.NewInit(7, ml.BackendParams{NumThreads: 2},
		maskgit.WithFilters(8),
		maskgit.WithNorm(nn.GroupNorm, 4),
		maskgit.WithChannelMultipliers(1, 2),
		maskgit.WithNumResBlocks(1),
		maskgit.WithQuantizer("vq"),
		maskgit.WithCodebookSize(16),
	)
	require.NoError(t, err)
	t.Cleanup(m.Backend().Close)

	return New(m, "sha256:test", st)
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x * 16), uint8(y * 16), 128, 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r *bytes.Reader
	switch body := body.(type) {
	case nil:
		r = bytes.NewReader(nil)
	case []byte:
		r = bytes.NewReader(body)
	default:
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestVersion(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	w := do(t, h, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, version.Version, decode[api.VersionResponse](t, w).Version)

	w = do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "vqtok is running", w.Body.String())
}

func TestShow(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	w := do(t, h, http.MethodGet, "/api/show", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[api.ShowResponse](t, w)
	assert.Equal(t, maskgit.Architecture, resp.Architecture)
	assert.Equal(t, "sha256:test", resp.Digest)
	assert.Equal(t, 16, resp.CodebookSize)
	assert.Equal(t, 2, resp.Downsampling)
	assert.Equal(t, "vq", resp.Parameters["maskgit.quantizer"])
	assert.EqualValues(t, 8, resp.Parameters["maskgit.filters"])
}

func TestTokenize(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	w := do(t, h, http.MethodPost, "/api/tokenize", api.TokenizeRequest{Image: pngImage(t, 16, 12)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[api.TokenizeResponse](t, w)
	if diff := cmp.Diff(resp.Shape, []int{1, 6, 8}); diff != "" {
		t.Errorf("shape mismatch (-got +want):\n%s", diff)
	}
	assert.Equal(t, 16, resp.CodebookSize)
	assert.Len(t, resp.Indices, 48)
	for _, id := range resp.Indices {
		if id < 0 || id >= 16 {
			t.Fatalf("erwartet index in [0, 16), bekommen %d", id)
		}
	}
	assert.Greater(t, resp.Usage, 0.0)
	assert.LessOrEqual(t, resp.Usage, 1.0)
	assert.False(t, resp.Cached)

	// Deterministisch bei gleicher Eingabe
	again := decode[api.TokenizeResponse](t, do(t, h, http.MethodPost, "/api/tokenize", api.TokenizeRequest{Image: pngImage(t, 16, 12)}))
	if diff := cmp.Diff(again.Indices, resp.Indices); diff != "" {
		t.Errorf("indices mismatch (-got +want):\n%s", diff)
	}
}

func TestTokenizeCache(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := newTestServer(t, st).GenerateRoutes()
	req := api.TokenizeRequest{Image: pngImage(t, 16, 16), Cache: true}

	first := decode[api.TokenizeResponse](t, do(t, h, http.MethodPost, "/api/tokenize", req))
	assert.False(t, first.Cached)

	second := decode[api.TokenizeResponse](t, do(t, h, http.MethodPost, "/api/tokenize", req))
	assert.True(t, second.Cached)
	if diff := cmp.Diff(second.Indices, first.Indices); diff != "" {
		t.Errorf("indices mismatch (-got +want):\n%s", diff)
	}

	entries, err := st.List(context.Background(), "sha256:test")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.Digest(req.Image), entries[0].ImageDigest)
	assert.Equal(t, 1, entries[0].Hits)

	// Ohne cache-Flag wird die Datenbank nicht gelesen
	third := decode[api.TokenizeResponse](t, do(t, h, http.MethodPost, "/api/tokenize", api.TokenizeRequest{Image: req.Image}))
	assert.False(t, third.Cached)
}

func TestTokenizeErrors(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	cases := []struct {
		name string
		body any
		code int
	}{
		{"missing body", nil, http.StatusBadRequest},
		{"invalid json", []byte("{"), http.StatusBadRequest},
		{"missing image", api.TokenizeRequest{}, http.StatusBadRequest},
		{"not an image", api.TokenizeRequest{Image: []byte("hello world")}, http.StatusBadRequest},
		{"too small", api.TokenizeRequest{Image: pngImage(t, 1, 1)}, http.StatusBadRequest},
		{"too large", bytes.Repeat([]byte{' '}, maxRequestSize+1), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/tokenize", tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestDetokenize(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	tok := decode[api.TokenizeResponse](t, do(t, h, http.MethodPost, "/api/tokenize", api.TokenizeRequest{Image: pngImage(t, 16, 12)}))

	for _, shape := range [][]int{{6, 8}, {1, 6, 8}} {
		w := do(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{Shape: shape, Indices: tok.Indices})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[api.DetokenizeResponse](t, w)
		assert.Equal(t, 16, resp.Width)
		assert.Equal(t, 12, resp.Height)

		img, err := png.Decode(bytes.NewReader(resp.Image))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())
	}
}

func TestDetokenizeErrors(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	cases := []struct {
		name string
		req  api.DetokenizeRequest
	}{
		{"batch", api.DetokenizeRequest{Shape: []int{2, 1, 1}, Indices: []int32{0, 1}}},
		{"rank", api.DetokenizeRequest{Shape: []int{4}, Indices: []int32{0, 1, 2, 3}}},
		{"count", api.DetokenizeRequest{Shape: []int{2, 2}, Indices: []int32{0, 1, 2}}},
		{"range", api.DetokenizeRequest{Shape: []int{1, 2}, Indices: []int32{0, 16}}},
		{"negative", api.DetokenizeRequest{Shape: []int{1, 2}, Indices: []int32{-1, 0}}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/detokenize", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestAllowedHosts(t *testing.T) {
	s := newTestServer(t, nil)
	s.addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11500}
	h := s.GenerateRoutes()

	cases := map[string]int{
		"localhost":         http.StatusOK,
		"127.0.0.1:11500":   http.StatusOK,
		"vqtok.local":       http.StatusOK,
		"example.com":       http.StatusForbidden,
		"attacker.io:11500": http.StatusForbidden,
	}

	for host, code := range cases {
		t.Run(host, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
			req.Host = host

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, code, w.Code)
		})
	}
}

func TestClient(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).GenerateRoutes())
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	client := api.NewClient(base, ts.Client())
	ctx := context.Background()

	require.NoError(t, client.Heartbeat(ctx))

	v, err := client.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.Version, v)

	show, err := client.Show(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, show.CodebookSize)

	tok, err := client.Tokenize(ctx, &api.TokenizeRequest{Image: pngImage(t, 16, 16)})
	require.NoError(t, err)

	img, err := client.Detokenize(ctx, &api.DetokenizeRequest{Shape: tok.Shape, Indices: tok.Indices})
	require.NoError(t, err)
	assert.Equal(t, 16, img.Width)

	_, err = client.Tokenize(ctx, &api.TokenizeRequest{})
	var serr api.StatusError
	require.True(t, errors.As(err, &serr), "erwartet StatusError, bekommen %v", err)
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, "missing image", serr.ErrorMessage)
}
