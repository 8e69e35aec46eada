// MODUL: image_test
// ZWECK: Tests fuer Bild-Lade- und Zuschnittfunktionen
// INPUT: Synthetische Bilder in PNG/BMP/TIFF
// OUTPUT: Testresultate
// NEBENEFFEKTE: temporaere Dateien
// ABHAENGIGKEITEN: testing, image, x/image
// HINWEISE: Testet Decode, Resize, Crop und Fit

package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// createRGBA erzeugt ein einfarbiges Testbild
func createRGBA(w, h int, c color.Color) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			rgba.Set(x, y, c)
		}
	}
	return rgba
}

// createPNGBytes erzeugt PNG-Bytes aus einem Testbild
func createPNGBytes(w, h int, c color.Color) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, createRGBA(w, h, c))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	red := color.RGBA{255, 0, 0, 255}

	var bmpBuf, tiffBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, createRGBA(20, 10, red)); err != nil {
		t.Fatal(err)
	}
	if err := tiff.Encode(&tiffBuf, createRGBA(20, 10, red), nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		data   []byte
		format ImageFormat
	}{
		{"png", createPNGBytes(20, 10, red), FormatPNG},
		{"bmp", bmpBuf.Bytes(), FormatBMP},
		{"tiff", tiffBuf.Bytes(), FormatTIFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if img.Width() != 20 || img.Height() != 10 {
				t.Errorf("Groesse = %dx%d, erwartet 20x10", img.Width(), img.Height())
			}

			if img.Format != tt.format {
				t.Errorf("Format = %v, erwartet %v", img.Format, tt.format)
			}

			if got := img.RGBA.RGBAAt(5, 5); got != red {
				t.Errorf("Pixel = %v, erwartet %v", got, red)
			}
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := Decode([]byte{0x00, 0x01, 0x02, 0x03}); err == nil {
		t.Error("erwartet Fehler fuer ungueltige Daten")
	}

	// gueltige Signatur, kaputter Inhalt
	if _, err := Decode([]byte{0x89, 0x50, 0x4E, 0x47, 0x00}); err == nil {
		t.Error("erwartet Fehler fuer abgeschnittenes PNG")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bild.png")
	if err := os.WriteFile(path, createPNGBytes(8, 4, color.White), 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if img.Width() != 8 || img.Height() != 4 {
		t.Errorf("Groesse = %dx%d, erwartet 8x4", img.Width(), img.Height())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "fehlt.png")); err == nil {
		t.Error("erwartet Fehler fuer fehlende Datei")
	}
}

func TestDecodeTransparent(t *testing.T) {
	// Transparente Pixel werden auf Weiss komponiert
	img, err := Decode(createPNGBytes(4, 4, color.RGBA{0, 0, 0, 0}))
	if err != nil {
		t.Fatal(err)
	}

	want := color.RGBA{255, 255, 255, 255}
	if got := img.RGBA.RGBAAt(0, 0); got != want {
		t.Errorf("Pixel = %v, erwartet %v", got, want)
	}
}

func TestResize(t *testing.T) {
	img := &Image{RGBA: createRGBA(100, 50, color.White), Format: FormatPNG}

	resized, err := Resize(img, 32, 16)
	if err != nil {
		t.Fatalf("Resize() error = %v", err)
	}

	if resized.Width() != 32 || resized.Height() != 16 {
		t.Errorf("Groesse = %dx%d, erwartet 32x16", resized.Width(), resized.Height())
	}

	if _, err := Resize(img, 0, 16); err == nil {
		t.Error("erwartet Fehler fuer Breite 0")
	}
}

func TestCenterCrop(t *testing.T) {
	rgba := createRGBA(10, 10, color.Black)
	rgba.Set(5, 5, color.White)
	img := &Image{RGBA: rgba}

	cropped, err := CenterCrop(img, 4, 4)
	if err != nil {
		t.Fatalf("CenterCrop() error = %v", err)
	}

	if cropped.Width() != 4 || cropped.Height() != 4 {
		t.Errorf("Groesse = %dx%d, erwartet 4x4", cropped.Width(), cropped.Height())
	}

	// Offset (3, 3): Pixel (5, 5) landet auf (2, 2)
	if got := cropped.RGBA.RGBAAt(2, 2); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("Pixel = %v, erwartet weiss", got)
	}

	if _, err := CenterCrop(img, 20, 4); err == nil {
		t.Error("erwartet Fehler fuer zu grossen Crop")
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h, maxSize, multiple int
		wantW, wantH            int
	}{
		{64, 48, 0, 16, 64, 48},
		{70, 50, 0, 16, 64, 48},
		{200, 100, 100, 16, 96, 48},
		{100, 200, 64, 16, 32, 64},
		{15, 15, 0, 16, 0, 0},
		{33, 17, 0, 1, 33, 17},
	}

	for _, tt := range tests {
		w, h := fitSize(tt.w, tt.h, tt.maxSize, tt.multiple)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitSize(%d, %d, %d, %d) = %dx%d, erwartet %dx%d",
				tt.w, tt.h, tt.maxSize, tt.multiple, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestFit(t *testing.T) {
	img := &Image{RGBA: createRGBA(200, 100, color.White)}

	fitted, err := Fit(img, 100, 16)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if fitted.Width() != 96 || fitted.Height() != 48 {
		t.Errorf("Groesse = %dx%d, erwartet 96x48", fitted.Width(), fitted.Height())
	}

	// Passende Bilder bleiben unveraendert
	exact := &Image{RGBA: createRGBA(32, 16, color.White)}
	same, err := Fit(exact, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	if same != exact {
		t.Error("erwartet unveraendertes Bild")
	}

	if _, err := Fit(&Image{RGBA: createRGBA(8, 8, color.White)}, 0, 16); !errors.Is(err, ErrImageSize) {
		t.Errorf("erwartet ErrImageSize, bekommen %v", err)
	}
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, createRGBA(4, 2, color.Black)); err != nil {
		t.Fatal(err)
	}

	if DetectFormat(buf.Bytes()) != FormatPNG {
		t.Error("erwartet PNG Ausgabe")
	}
}
