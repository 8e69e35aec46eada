// Modul: model.go
// Beschreibung: VQ-Autoencoder aus Encoder, Quantisierer und Decoder
// Hauptstrukturen:
//   - Model: Hauptstruktur des Tokenizers
//   - New: Erstellt das Modell-Geruest aus GGUF-Metadaten
//   - Encode/Decode/Forward: Vorwaerts- und Rueckweg
//   - EncodeToIndices/DecodeFromIndices: Bilder <-> Codebook-Indizes

package maskgit

import (
	"fmt"
	"math/rand/v2"

	"github.com/ollama/vqtok/fs"
	"github.com/ollama/vqtok/logutil"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/model"
	"github.com/ollama/vqtok/model/quantizer"
)

// Model repraesentiert den vollstaendigen Tokenizer
type Model struct {
	model.Base

	Encoder   *Encoder            `gguf:"enc"`
	Decoder   *Decoder            `gguf:"dec"`
	Quantizer quantizer.Quantizer `gguf:"quantizer"`

	opts *Options
}

func init() {
	model.Register(Architecture, New)
}

// New erstellt das Modell-Geruest aus der gegebenen Konfiguration
func New(c fs.Config) (model.Model, error) {
	opts := optionsFromConfig(c)

	m, err := newModel(&opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newModel(opts *Options) (*Model, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	q, err := quantizer.New(opts.Quantizer, opts.QuantizerOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return &Model{
		Encoder:   newEncoder(opts),
		Decoder:   newDecoder(opts),
		Quantizer: q,
		opts:      opts,
	}, nil
}

// NewInit erzeugt einen Tokenizer mit zufaelligen Parametern
func NewInit(seed uint64, params ml.BackendParams, opts ...Option) (*Model, error) {
	o := NewOptions(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}

	m, err := model.NewInit(o.KV(), seed, params)
	if err != nil {
		return nil, err
	}

	mm := m.(*Model)
	mm.opts.Train = o.Train
	return mm, nil
}

// Load laedt einen Tokenizer aus einem GGUF-Checkpoint
func Load(path string, params ml.BackendParams) (*Model, error) {
	m, err := model.New(path, params)
	if err != nil {
		return nil, err
	}

	mm, ok := m.(*Model)
	if !ok {
		m.Backend().Close()
		return nil, fmt.Errorf("%w: %s is %s", model.ErrUnsupportedModel, path, m.Config().Architecture())
	}
	return mm, nil
}

// Init belegt alle Parameter neu
func (m *Model) Init(ctx ml.Context, rng *rand.Rand) error {
	m.Encoder.init(ctx, rng, m.opts.OutputDim, m.opts)
	m.Decoder.init(ctx, rng, m.opts)
	return m.Quantizer.Init(ctx, rng)
}

// Validate prueft nach dem Laden alle Tensoren auf Existenz und Form
func (m *Model) Validate() error {
	if m.Encoder == nil || m.Decoder == nil || m.Quantizer == nil {
		return fmt.Errorf("%w: encoder, decoder or quantizer", ErrMissingTensor)
	}

	if err := m.Encoder.validate(m.opts.OutputDim, m.opts); err != nil {
		return err
	}
	if err := m.Decoder.validate(m.opts); err != nil {
		return err
	}
	if err := m.Quantizer.Validate(); err != nil {
		return fmt.Errorf("quantizer: %w", err)
	}
	return nil
}

// Options gibt eine Kopie der Hyperparameter zurueck
func (m *Model) Options() Options {
	return *m.opts
}

// SetTrain schaltet zwischen Trainings- und Inferenzmodus um
func (m *Model) SetTrain(train bool) {
	m.opts.Train = train
}

// Encode bildet Bilder (B, H, W, C) auf das quantisierte Gitter ab
func (m *Model) Encode(ctx ml.Context, image ml.Tensor) (ml.Tensor, *quantizer.Record, error) {
	if len(image.Shape()) != 4 || image.Dim(3) != m.opts.OutputDim {
		return nil, nil, fmt.Errorf("%w: image %v, want (B, H, W, %d)", ErrShape, image.Shape(), m.opts.OutputDim)
	}

	features := m.Encoder.Forward(ctx, image, m.opts)
	logutil.Trace("encoded", "image", image.Shape(), "features", features.Shape())

	return m.Quantizer.Forward(ctx, features, m.opts.Train)
}

// Decode rekonstruiert Bilder aus einem Gitter (B, h, w, embedding_dim)
func (m *Model) Decode(ctx ml.Context, x ml.Tensor) (ml.Tensor, error) {
	if len(x.Shape()) != 4 || x.Dim(3) != m.opts.EmbeddingDim {
		return nil, fmt.Errorf("%w: features %v, want (B, h, w, %d)", ErrShape, x.Shape(), m.opts.EmbeddingDim)
	}

	return m.Decoder.Forward(ctx, x, m.opts), nil
}

// Forward ist der komplette Rundweg Bild -> Codes -> Bild
func (m *Model) Forward(ctx ml.Context, image ml.Tensor) (ml.Tensor, error) {
	quantized, _, err := m.Encode(ctx, image)
	if err != nil {
		return nil, err
	}

	return m.Decode(ctx, quantized)
}

// Codebook liefert alle Codes als (K, embedding_dim)
func (m *Model) Codebook(ctx ml.Context) ml.Tensor {
	return m.Quantizer.Codebook(ctx)
}

// input liest den Tensor aus einem Tensor oder einem Record mit key
func input(in any, key string) (ml.Tensor, error) {
	switch v := in.(type) {
	case ml.Tensor:
		return v, nil
	case *quantizer.Record:
		t, ok := v.Get(key)
		if !ok {
			return nil, fmt.Errorf("%w: record without %q", ErrInput, key)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInput, in)
	}
}

// EncodeToIndices liefert die Codebook-Indizes (B, h, w) eines Bildes.
// in ist ein Tensor oder ein Record mit dem Eintrag "image".
func (m *Model) EncodeToIndices(ctx ml.Context, in any) (ml.Tensor, error) {
	image, err := input(in, quantizer.KeyImage)
	if err != nil {
		return nil, err
	}

	_, r, err := m.Encode(ctx, image)
	if err != nil {
		return nil, err
	}

	ids, _ := r.Get(quantizer.KeyEncodingIndices)
	return ids, nil
}

// DecodeFromIndices rekonstruiert Bilder aus Indizes (B, h, w) ohne den
// Encoder zu benutzen. in ist ein Tensor oder ein Record mit dem
// Eintrag "encoding_indices".
func (m *Model) DecodeFromIndices(ctx ml.Context, in any) (ml.Tensor, error) {
	ids, err := input(in, quantizer.KeyEncodingIndices)
	if err != nil {
		return nil, err
	}

	if len(ids.Shape()) != 3 {
		return nil, fmt.Errorf("%w: indices %v, want (B, h, w)", ErrShape, ids.Shape())
	}

	features, err := m.Quantizer.DecodeIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	return m.Decode(ctx, features)
}
