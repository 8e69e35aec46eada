// routes_tokens.go - Handler fuer Tokenisierung und Rekonstruktion
// Enthaelt: TokenizeHandler, DetokenizeHandler, ShowHandler

package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ollama/vqtok/api"
	"github.com/ollama/vqtok/codes"
	"github.com/ollama/vqtok/model/models/maskgit"
	"github.com/ollama/vqtok/store"
	"github.com/ollama/vqtok/vision"
)

// statusFor ordnet Fehler einem HTTP-Status zu: Eingabefehler 400, sonst 500
func statusFor(err error) int {
	switch {
	case errors.Is(err, vision.ErrImageSize),
		errors.Is(err, vision.ErrUnknownFormat),
		errors.Is(err, vision.ErrUnsupportedFormat),
		errors.Is(err, codes.ErrIndexRange),
		errors.Is(err, codes.ErrFormat),
		errors.Is(err, maskgit.ErrShape):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON liest den Request-Body; bei Fehlern ist die Antwort schon geschrieben
func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return false
	case errors.As(err, &maxErr):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return false
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func tokenizeResponse(t *codes.Tokens, cached bool) api.TokenizeResponse {
	_, usage := t.Usage()
	return api.TokenizeResponse{
		Shape:        t.Shape,
		CodebookSize: t.CodebookSize,
		Indices:      t.Indices,
		Usage:        usage,
		Cached:       cached,
	}
}

// TokenizeHandler verarbeitet POST /api/tokenize
func (s *Server) TokenizeHandler(c *gin.Context) {
	var req api.TokenizeRequest
	if !bindJSON(c, &req) {
		return
	}

	if len(req.Image) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing image"})
		return
	}

	ctx := c.Request.Context()
	imageDigest := store.Digest(req.Image)
	useCache := req.Cache && s.store != nil

	if useCache {
		e, err := s.store.Get(ctx, s.digest, imageDigest)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, tokenizeResponse(e.Tokens, true))
			return
		case !errors.Is(err, store.ErrNotFound):
			slog.Warn("token cache lookup failed", "image", imageDigest, "error", err)
		}
	}

	img, err := vision.Decode(req.Image)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := s.tokenize(ctx, img)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if useCache {
		if _, err := s.store.Put(ctx, s.digest, imageDigest, maskgit.Architecture, t); err != nil {
			slog.Warn("token cache write failed", "image", imageDigest, "error", err)
		}
	}

	c.JSON(http.StatusOK, tokenizeResponse(t, false))
}

// tokenize fuehrt den Encoder unter dem Semaphor aus
func (s *Server) tokenize(ctx context.Context, img *vision.Image) (*codes.Tokens, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	opts := s.model.Options()
	img, err := vision.Fit(img, s.maxImageSize, opts.Downsampling())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	mctx := s.model.Backend().NewContext()
	defer mctx.Close()

	x, err := vision.ToTensor(mctx, img)
	if err != nil {
		return nil, err
	}

	ids, err := s.model.EncodeToIndices(mctx, x)
	if err != nil {
		return nil, err
	}

	slog.Debug("tokenized image", "width", img.Width(), "height", img.Height(), "shape", ids.Shape(), "duration", time.Since(start))
	return codes.FromTensor(ids, s.model.Quantizer.CodebookSize())
}

// DetokenizeHandler verarbeitet POST /api/detokenize
func (s *Server) DetokenizeHandler(c *gin.Context) {
	var req api.DetokenizeRequest
	if !bindJSON(c, &req) {
		return
	}

	shape := req.Shape
	switch {
	case len(shape) == 2:
		shape = append([]int{1}, shape...)
	case len(shape) == 3 && shape[0] == 1:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("shape %v, want (h, w) or (1, h, w)", req.Shape)})
		return
	}

	t, err := codes.New(req.Indices, s.model.Quantizer.CodebookSize(), shape...)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	png, err := s.detokenize(c.Request.Context(), t)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	opts := s.model.Options()
	c.JSON(http.StatusOK, api.DetokenizeResponse{
		Image:  png,
		Width:  shape[2] * opts.Downsampling(),
		Height: shape[1] * opts.Downsampling(),
	})
}

// detokenize dekodiert t und liefert das Bild als PNG
func (s *Server) detokenize(ctx context.Context, t *codes.Tokens) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	mctx := s.model.Backend().NewContext()
	defer mctx.Close()

	out, err := s.model.DecodeFromIndices(mctx, t.Tensor(mctx))
	if err != nil {
		return nil, err
	}

	imgs, err := vision.FromTensor(out)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := vision.EncodePNG(&buf, imgs[0]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ShowHandler verarbeitet GET /api/show
func (s *Server) ShowHandler(c *gin.Context) {
	opts := s.model.Options()
	kv := opts.KV()

	c.JSON(http.StatusOK, api.ShowResponse{
		Architecture: kv.Architecture(),
		Digest:       s.digest,
		CodebookSize: s.model.Quantizer.CodebookSize(),
		Downsampling: opts.Downsampling(),
		Parameters:   kv,
	})
}
