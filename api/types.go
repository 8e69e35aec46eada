// types.go - Request- und Response-Typen der vqtok REST API
// Enthaelt: StatusError, ImageData, Tokenize*, Detokenize*, ShowResponse, VersionResponse
package api

import (
	"fmt"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the vqtok server logs for details"
	}
}

// ImageData represents the raw binary data of an image file.
// Im JSON erscheint es base64-kodiert.
type ImageData []byte

// TokenizeRequest - Anfrage fuer POST /api/tokenize
type TokenizeRequest struct {
	// Image ist ein kodiertes Bild (png, jpeg, webp, bmp, tiff)
	Image ImageData `json:"image"`

	// Cache liest und schreibt die Token-Datenbank des Servers
	Cache bool `json:"cache,omitempty"`
}

// TokenizeResponse enthaelt die Codebook-Indizes eines Bildes
type TokenizeResponse struct {
	// Shape ist (B, h, w)
	Shape        []int   `json:"shape"`
	CodebookSize int     `json:"codebook_size"`
	Indices      []int32 `json:"indices"`

	// Usage ist der Anteil der verwendeten Codes am Codebook
	Usage float64 `json:"usage"`

	Cached bool `json:"cached,omitempty"`
}

// DetokenizeRequest - Anfrage fuer POST /api/detokenize.
// Shape ist (h, w) oder (1, h, w).
type DetokenizeRequest struct {
	Shape   []int   `json:"shape"`
	Indices []int32 `json:"indices"`
}

// DetokenizeResponse enthaelt das rekonstruierte Bild als PNG
type DetokenizeResponse struct {
	Image  ImageData `json:"image"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

// ShowResponse beschreibt den geladenen Tokenizer
type ShowResponse struct {
	Architecture string         `json:"architecture"`
	Digest       string         `json:"digest,omitempty"`
	CodebookSize int            `json:"codebook_size"`
	Downsampling int            `json:"downsampling"`
	Parameters   map[string]any `json:"parameters"`
}

// VersionResponse - Antwort von GET /api/version
type VersionResponse struct {
	Version string `json:"version"`
}
