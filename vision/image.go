// MODUL: image
// ZWECK: Bilder laden, auf Tokenizer-Groessen zuschneiden und als PNG schreiben
// INPUT: Dateipfad, Bytes oder io.Reader
// OUTPUT: Image Struktur mit dekodiertem RGBA-Bild
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei Load
// ABHAENGIGKEITEN: golang.org/x/image (draw, webp, bmp, tiff), image/jpeg, image/png
// HINWEISE: Alle Bilder werden nach RGBA konvertiert, Alpha wird auf Weiss komponiert

package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	// Standard-Decoder registrieren
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image enthaelt ein dekodiertes Bild mit seinem Quellformat
type Image struct {
	RGBA   *image.RGBA
	Format ImageFormat
}

func (img *Image) Width() int  { return img.RGBA.Bounds().Dx() }
func (img *Image) Height() int { return img.RGBA.Bounds().Dy() }

// Load laedt ein Bild von einem Dateipfad
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datei lesen fehlgeschlagen: %w", err)
	}
	return Decode(data)
}

// Decode dekodiert ein Bild aus Byte-Daten
func Decode(data []byte) (*Image, error) {
	format := DetectFormat(data)
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	return &Image{RGBA: composite(img, color.White), Format: format}, nil
}

// DecodeReader dekodiert ein Bild aus einem io.Reader
func DecodeReader(r io.Reader) (*Image, error) {
	// Erst Daten puffern fuer Format-Erkennung
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("daten lesen fehlgeschlagen: %w", err)
	}
	return Decode(data)
}

// composite zeichnet img auf einen einfarbigen Hintergrund und setzt den
// Ursprung auf (0, 0)
func composite(img image.Image, bg color.Color) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	draw.Draw(dst, dst.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

// Resize skaliert ein Bild bilinear auf die angegebene Groesse
func Resize(img *Image, width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img.RGBA, img.RGBA.Bounds(), draw.Src, nil)
	return &Image{RGBA: dst, Format: img.Format}, nil
}

// CenterCrop schneidet einen zentrierten Bereich aus
func CenterCrop(img *Image, width, height int) (*Image, error) {
	if width <= 0 || height <= 0 || width > img.Width() || height > img.Height() {
		return nil, fmt.Errorf("crop %dx%d passt nicht in bild %dx%d", width, height, img.Width(), img.Height())
	}

	offsetX := (img.Width() - width) / 2
	offsetY := (img.Height() - height) / 2

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), img.RGBA, image.Pt(offsetX, offsetY), draw.Src)
	return &Image{RGBA: dst, Format: img.Format}, nil
}

// ErrImageSize wird von Fit geliefert wenn nach dem Zuschnitt nichts uebrig bleibt
var ErrImageSize = errors.New("bild zu klein")

// fitSize berechnet die Zielgroesse: die laengere Seite wird auf maxSize
// begrenzt, beide Seiten werden auf ein Vielfaches von multiple abgerundet
func fitSize(w, h, maxSize, multiple int) (int, int) {
	if maxSize > 0 && max(w, h) > maxSize {
		scale := float64(maxSize) / float64(max(w, h))
		w = max(int(float64(w)*scale), 1)
		h = max(int(float64(h)*scale), 1)
	}

	if multiple > 1 {
		w = w / multiple * multiple
		h = h / multiple * multiple
	}
	return w, h
}

// Fit bereitet ein Bild fuer den Encoder vor: verkleinern auf maxSize und
// zentriert auf ein Vielfaches von multiple zuschneiden
func Fit(img *Image, maxSize, multiple int) (*Image, error) {
	w, h := fitSize(img.Width(), img.Height(), maxSize, multiple)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: %dx%d, vielfaches von %d", ErrImageSize, img.Width(), img.Height(), multiple)
	}

	if maxSize > 0 && max(img.Width(), img.Height()) > maxSize {
		sw, sh := fitSize(img.Width(), img.Height(), maxSize, 1)
		scaled, err := Resize(img, sw, sh)
		if err != nil {
			return nil, err
		}
		img = scaled
	}

	if img.Width() == w && img.Height() == h {
		return img, nil
	}
	return CenterCrop(img, w, h)
}

// EncodePNG schreibt ein RGBA-Bild als PNG
func EncodePNG(w io.Writer, img *image.RGBA) error {
	return png.Encode(w, img)
}
