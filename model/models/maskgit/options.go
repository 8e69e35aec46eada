// Modul: options.go
// Beschreibung: Konfigurationsoptionen fuer den MaskGIT-Tokenizer
// Hauptstrukturen:
//   - Options: Hyperparameter von Encoder, Decoder und Quantisierer
//   - Option: Functional Options fuer die programmatische Konfiguration
//   - KV/optionsFromConfig: Abbildung auf GGUF-Metadaten

package maskgit

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ollama/vqtok/fs"
	"github.com/ollama/vqtok/fs/gguf"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
	"github.com/ollama/vqtok/model/quantizer"
)

// Architecture ist der Wert von general.architecture
const Architecture = "maskgit"

var (
	ErrConfig        = errors.New("maskgit: invalid configuration")
	ErrMissingTensor = errors.New("maskgit: missing tensor")
	ErrInput         = errors.New("maskgit: unsupported input")
	ErrShape         = nn.ErrShape
)

// Options enthaelt alle Hyperparameter des Autoencoders
type Options struct {
	Filters            int
	NumResBlocks       int
	ChannelMultipliers []int
	EmbeddingDim       int

	// OutputDim ist zugleich die Kanalzahl der Eingabebilder
	OutputDim int

	ConvDownsample  bool
	UseConvShortcut bool
	Upsample        ml.SamplingMode

	NormType   nn.NormKind
	NormGroups int
	NormEps    float32
	Activation string

	// Train schaltet Batch-Statistiken und Verlustterme ein
	Train bool

	Quantizer        string
	QuantizerOptions quantizer.Options
}

// Option ist eine funktionale Option fuer Options
type Option func(*Options)

// DefaultOptions entspricht dem Referenz-Tokenizer
func DefaultOptions() Options {
	return Options{
		Filters:            128,
		NumResBlocks:       2,
		ChannelMultipliers: []int{1, 1, 2, 2, 4},
		EmbeddingDim:       10,
		OutputDim:          3,
		Upsample:           ml.SamplingModeNearest,
		NormType:           nn.GroupNorm,
		NormGroups:         32,
		Activation:         "swish",
		Quantizer:          "fsq",
		QuantizerOptions:   quantizer.DefaultOptions(),
	}
}

// NewOptions wendet opts auf die Standardwerte an. Ohne WithCodebookSize
// ergibt sich die Codebook-Groesse aus dem Quantisierer.
func NewOptions(opts ...Option) Options {
	o := DefaultOptions()
	o.QuantizerOptions.CodebookSize = 0
	for _, opt := range opts {
		opt(&o)
	}

	o.resolve()
	return o
}

// resolve gleicht die abhaengigen Quantisierer-Optionen an. fsq hat
// Prod(levels) Codes, vq den Standardwert.
func (o *Options) resolve() {
	q := &o.QuantizerOptions
	q.EmbeddingDim = o.EmbeddingDim
	if q.CodebookSize != 0 {
		return
	}

	if o.Quantizer == "fsq" {
		q.CodebookSize = 1
		for _, l := range q.Levels {
			q.CodebookSize *= max(l, 1)
		}
		return
	}

	q.CodebookSize = quantizer.DefaultOptions().CodebookSize
}

func WithFilters(n int) Option {
	return func(o *Options) { o.Filters = n }
}

func WithNumResBlocks(n int) Option {
	return func(o *Options) { o.NumResBlocks = n }
}

func WithChannelMultipliers(m ...int) Option {
	return func(o *Options) { o.ChannelMultipliers = slices.Clone(m) }
}

func WithEmbeddingDim(n int) Option {
	return func(o *Options) { o.EmbeddingDim = n }
}

func WithOutputDim(n int) Option {
	return func(o *Options) { o.OutputDim = n }
}

func WithConvDownsample(b bool) Option {
	return func(o *Options) { o.ConvDownsample = b }
}

func WithConvShortcut(b bool) Option {
	return func(o *Options) { o.UseConvShortcut = b }
}

func WithUpsample(mode ml.SamplingMode) Option {
	return func(o *Options) { o.Upsample = mode }
}

// WithNorm setzt Normalisierung und Gruppenzahl (nur GN)
func WithNorm(kind nn.NormKind, groups int) Option {
	return func(o *Options) { o.NormType, o.NormGroups = kind, groups }
}

func WithActivation(name string) Option {
	return func(o *Options) { o.Activation = name }
}

func WithTrain(b bool) Option {
	return func(o *Options) { o.Train = b }
}

// WithQuantizer waehlt eine registrierte Variante ("vq" oder "fsq")
func WithQuantizer(name string) Option {
	return func(o *Options) { o.Quantizer = name }
}

func WithCodebookSize(n int) Option {
	return func(o *Options) { o.QuantizerOptions.CodebookSize = n }
}

func WithLevels(levels ...int) Option {
	return func(o *Options) { o.QuantizerOptions.Levels = slices.Clone(levels) }
}

// WithEntropyLoss setzt Gewicht, Temperatur und Typ des Entropie-Verlusts
func WithEntropyLoss(ratio, temperature float32, kind nn.EntropyLossType) Option {
	return func(o *Options) {
		o.QuantizerOptions.EntropyLossRatio = ratio
		o.QuantizerOptions.EntropyTemperature = temperature
		o.QuantizerOptions.EntropyLossType = kind
	}
}

// ============================================================================
// Validierung
// ============================================================================

// Validate prueft die Hyperparameter vor dem Aufbau des Modells
func (o *Options) Validate() error {
	if o.Filters <= 0 || o.NumResBlocks < 1 || o.EmbeddingDim <= 0 || o.OutputDim <= 0 {
		return fmt.Errorf("%w: filters %d, res blocks %d, embedding %d, output %d", ErrConfig, o.Filters, o.NumResBlocks, o.EmbeddingDim, o.OutputDim)
	}

	if len(o.ChannelMultipliers) == 0 {
		return fmt.Errorf("%w: no channel multipliers", ErrConfig)
	}

	for _, m := range o.ChannelMultipliers {
		if m <= 0 {
			return fmt.Errorf("%w: channel multiplier %d", ErrConfig, m)
		}

		if o.NormType == nn.GroupNorm && (o.NormGroups <= 0 || o.Filters*m%o.NormGroups != 0) {
			return fmt.Errorf("%w: %d channels not divisible into %d groups", ErrConfig, o.Filters*m, o.NormGroups)
		}
	}

	if _, err := nn.ParseNormKind(string(o.NormType)); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if _, err := nn.ActivationByName(o.Activation); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if !o.Upsample.Valid() {
		return fmt.Errorf("%w: upsampling mode %v", ErrConfig, o.Upsample)
	}

	if o.QuantizerOptions.EmbeddingDim != o.EmbeddingDim {
		return fmt.Errorf("%w: quantizer embedding dim %d, encoder %d", ErrConfig, o.QuantizerOptions.EmbeddingDim, o.EmbeddingDim)
	}

	return nil
}

// width liefert die Kanalzahl der Stufe i
func (o *Options) width(i int) int {
	return o.Filters * o.ChannelMultipliers[i]
}

func (o *Options) norm() nn.NormOptions {
	return nn.NormOptions{Kind: o.NormType, Groups: o.NormGroups, Eps: o.NormEps, Train: o.Train}
}

func (o *Options) activation() nn.Activation {
	act, err := nn.ActivationByName(o.Activation)
	if err != nil {
		return nn.Swish
	}
	return act
}

// Downsampling gibt den Faktor zwischen Bild und Merkmalsgitter an
func (o *Options) Downsampling() int {
	return 1 << (len(o.ChannelMultipliers) - 1)
}

// ============================================================================
// GGUF-Metadaten
// ============================================================================

func toInt32s(s []int) []int32 {
	out := make([]int32, len(s))
	for i, v := range s {
		out[i] = int32(v)
	}
	return out
}

func toInts(s []int32) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

// KV bildet die Optionen auf GGUF-Metadaten ab. Train wird nicht gespeichert.
func (o *Options) KV() gguf.KV {
	q := o.QuantizerOptions
	values := map[string]any{
		"filters":             uint32(o.Filters),
		"num_res_blocks":      uint32(o.NumResBlocks),
		"channel_multipliers": toInt32s(o.ChannelMultipliers),
		"embedding_dim":       uint32(o.EmbeddingDim),
		"output_dim":          uint32(o.OutputDim),
		"conv_downsample":     o.ConvDownsample,
		"use_conv_shortcut":   o.UseConvShortcut,
		"upsample":            o.Upsample.String(),
		"norm_type":           string(o.NormType),
		"norm_groups":         uint32(o.NormGroups),
		"norm_eps":            o.NormEps,
		"activation":          o.Activation,

		"quantizer":                     o.Quantizer,
		"quantizer.codebook_size":       uint32(q.CodebookSize),
		"quantizer.levels":              toInt32s(q.Levels),
		"quantizer.commitment_cost":     q.CommitmentCost,
		"quantizer.entropy_loss_ratio":  q.EntropyLossRatio,
		"quantizer.entropy_temperature": q.EntropyTemperature,
		"quantizer.entropy_loss_type":   string(q.EntropyLossType),
	}

	// Schluessel mit Architektur-Praefix wie in geschriebenen Dateien
	kv := gguf.KV{"general.architecture": Architecture}
	for k, v := range values {
		kv[Architecture+"."+k] = v
	}

	return kv
}

// optionsFromConfig liest die Optionen aus GGUF-Metadaten. Fehlende
// Schluessel behalten ihre Standardwerte.
func optionsFromConfig(c fs.Config) Options {
	d := DefaultOptions()
	q := d.QuantizerOptions

	o := Options{
		Filters:            int(c.Uint("filters", uint32(d.Filters))),
		NumResBlocks:       int(c.Uint("num_res_blocks", uint32(d.NumResBlocks))),
		ChannelMultipliers: toInts(c.Ints("channel_multipliers", toInt32s(d.ChannelMultipliers))),
		EmbeddingDim:       int(c.Uint("embedding_dim", uint32(d.EmbeddingDim))),
		OutputDim:          int(c.Uint("output_dim", uint32(d.OutputDim))),
		ConvDownsample:     c.Bool("conv_downsample"),
		UseConvShortcut:    c.Bool("use_conv_shortcut"),
		NormType:           nn.NormKind(c.String("norm_type", string(d.NormType))),
		NormGroups:         int(c.Uint("norm_groups", uint32(d.NormGroups))),
		NormEps:            c.Float("norm_eps"),
		Activation:         c.String("activation", d.Activation),
		Quantizer:          c.String("quantizer", d.Quantizer),
		QuantizerOptions: quantizer.Options{
			CodebookSize:       int(c.Uint("quantizer.codebook_size", 0)),
			Levels:             toInts(c.Ints("quantizer.levels", toInt32s(q.Levels))),
			CommitmentCost:     c.Float("quantizer.commitment_cost", q.CommitmentCost),
			EntropyLossRatio:   c.Float("quantizer.entropy_loss_ratio", q.EntropyLossRatio),
			EntropyTemperature: c.Float("quantizer.entropy_temperature", q.EntropyTemperature),
			EntropyLossType:    nn.EntropyLossType(c.String("quantizer.entropy_loss_type", string(q.EntropyLossType))),
		},
	}

	upsample := c.String("upsample", d.Upsample.String())
	if mode, ok := ml.ParseSamplingMode(upsample); ok {
		o.Upsample = mode
	} else {
		o.Upsample = ml.SamplingModeUnknown
	}
	o.resolve()
	return o
}
