// MODUL: tensor
// ZWECK: Konvertierung zwischen Bildern und NHWC-Tensoren im Bereich [0,1]
// INPUT: Image Strukturen bzw. Decoder-Ausgaben (B, H, W, 3)
// OUTPUT: ml.Tensor bzw. RGBA-Bilder
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: ml (Tensor-Interfaces)
// HINWEISE: Keine Mean/Std-Normalisierung, der Tokenizer arbeitet direkt auf [0,1]

package vision

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/ollama/vqtok/ml"
)

// Channels ist die Anzahl der Farbkanaele im Tensor-Layout
const Channels = 3

// ErrSizeMismatch wird zurueckgegeben wenn Bilder eines Batches unterschiedlich gross sind
var ErrSizeMismatch = errors.New("bilder im batch haben unterschiedliche groessen")

// Pixels liefert die RGB-Werte eines Bildes als float32 im HWC Layout
func Pixels(img *image.RGBA) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	result := make([]float32, 0, h*w*Channels)
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := range w {
			p := row[x*4 : x*4+4]
			result = append(result, float32(p[0])/255, float32(p[1])/255, float32(p[2])/255)
		}
	}
	return result
}

// ToTensor stapelt gleich grosse Bilder zu einem Tensor (B, H, W, 3)
func ToTensor(ctx ml.Context, imgs ...*Image) (ml.Tensor, error) {
	if len(imgs) == 0 {
		return nil, errors.New("keine bilder")
	}

	w, h := imgs[0].Width(), imgs[0].Height()
	data := make([]float32, 0, len(imgs)*h*w*Channels)
	for i, img := range imgs {
		if img.Width() != w || img.Height() != h {
			return nil, fmt.Errorf("%w: bild %d ist %dx%d, erwartet %dx%d", ErrSizeMismatch, i, img.Width(), img.Height(), w, h)
		}
		data = append(data, Pixels(img.RGBA)...)
	}

	return ctx.Input().FromFloats(data, len(imgs), h, w, Channels), nil
}

// FromTensor wandelt einen Tensor (B, H, W, 3) in RGBA-Bilder um.
// Werte ausserhalb von [0,1] werden abgeschnitten.
func FromTensor(t ml.Tensor) ([]*image.RGBA, error) {
	shape := t.Shape()
	if len(shape) != 4 || shape[3] != Channels {
		return nil, fmt.Errorf("tensor form %v, erwartet (B, H, W, %d)", shape, Channels)
	}

	b, h, w := shape[0], shape[1], shape[2]
	data := t.Floats()

	imgs := make([]*image.RGBA, b)
	for i := range imgs {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		src := data[i*h*w*Channels : (i+1)*h*w*Channels]
		for p := range h * w {
			for c := range Channels {
				img.Pix[p*4+c] = toByte(src[p*Channels+c])
			}
			img.Pix[p*4+3] = 255
		}
		imgs[i] = img
	}
	return imgs, nil
}

func toByte(v float32) uint8 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}
