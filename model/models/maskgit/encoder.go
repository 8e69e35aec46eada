// Modul: encoder.go
// Beschreibung: Faltungs-Encoder von Bildern auf das Merkmalsgitter
// Hauptstrukturen:
//   - Encoder: conv_in, Stufen mit Residual-Bloecken und Downsampling, mid, Ausgabe
//   - EncoderStage: Residual-Bloecke einer Aufloesungsstufe

package maskgit

import (
	"fmt"
	"math/rand/v2"

	"github.com/ollama/vqtok/logutil"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
)

type EncoderStage struct {
	Blocks []ResBlock `gguf:"res"`

	// Downsample existiert nur mit ConvDownsample und nicht in der letzten Stufe
	Downsample *nn.Conv2D `gguf:"downsample"`
}

type Encoder struct {
	ConvIn  *nn.Conv2D     `gguf:"conv_in"`
	Stages  []EncoderStage `gguf:"down"`
	Mid     []ResBlock     `gguf:"mid"`
	NormOut *nn.Norm       `gguf:"norm_out"`
	ConvOut *nn.Conv2D     `gguf:"conv_out"`
}

// newEncoder legt das Geruest mit den Slice-Laengen aus opts an
func newEncoder(opts *Options) *Encoder {
	e := Encoder{
		Stages: make([]EncoderStage, len(opts.ChannelMultipliers)),
		Mid:    make([]ResBlock, opts.NumResBlocks),
	}

	for i := range e.Stages {
		e.Stages[i].Blocks = make([]ResBlock, opts.NumResBlocks)
	}

	return &e
}

func (e *Encoder) Forward(ctx ml.Context, x ml.Tensor, opts *Options) ml.Tensor {
	x = e.ConvIn.Forward(ctx, x, 1, 1)

	last := len(e.Stages) - 1
	for i, stage := range e.Stages {
		for j := range stage.Blocks {
			x = stage.Blocks[j].Forward(ctx, x, opts)
		}

		if i < last {
			if opts.ConvDownsample {
				x = stage.Downsample.Forward(ctx, x, 2, 2)
			} else {
				x = nn.Downsample(ctx, x)
			}
		}

		logutil.Trace("encoder stage", "stage", i, "shape", x.Shape())
	}

	for i := range e.Mid {
		x = e.Mid[i].Forward(ctx, x, opts)
	}

	x = e.NormOut.Forward(ctx, x, opts.norm())
	x = opts.activation()(ctx, x)
	return e.ConvOut.Forward(ctx, x, 1, 1)
}

func (e *Encoder) init(ctx ml.Context, rng *rand.Rand, in int, opts *Options) {
	e.ConvIn = &nn.Conv2D{}
	e.ConvIn.Init(ctx, rng, 3, 3, in, opts.Filters, false)

	width := opts.Filters
	last := len(e.Stages) - 1
	for i := range e.Stages {
		stage := &e.Stages[i]
		for j := range stage.Blocks {
			stage.Blocks[j].init(ctx, rng, width, opts.width(i), opts)
			width = opts.width(i)
		}

		stage.Downsample = nil
		if opts.ConvDownsample && i < last {
			stage.Downsample = &nn.Conv2D{}
			stage.Downsample.Init(ctx, rng, 4, 4, width, width, true)
		}
	}

	for i := range e.Mid {
		e.Mid[i].init(ctx, rng, width, width, opts)
	}

	e.NormOut = &nn.Norm{}
	e.NormOut.Init(ctx, opts.NormType, width)
	e.ConvOut = &nn.Conv2D{}
	e.ConvOut.Init(ctx, rng, 1, 1, width, opts.EmbeddingDim, true)
}

func (e *Encoder) validate(in int, opts *Options) error {
	if err := checkConv("enc.conv_in", e.ConvIn, false, 3, 3, in, opts.Filters); err != nil {
		return err
	}

	width := opts.Filters
	last := len(e.Stages) - 1
	for i, stage := range e.Stages {
		for j := range stage.Blocks {
			if err := stage.Blocks[j].validate(fmt.Sprintf("enc.down.%d.res.%d", i, j), width, opts.width(i), opts); err != nil {
				return err
			}
			width = opts.width(i)
		}

		name := fmt.Sprintf("enc.down.%d.downsample", i)
		switch {
		case opts.ConvDownsample && i < last:
			if err := checkConv(name, stage.Downsample, true, 4, 4, width, width); err != nil {
				return err
			}
		case stage.Downsample != nil:
			return fmt.Errorf("%w: unexpected %s", ErrShape, name)
		}
	}

	for i := range e.Mid {
		if err := e.Mid[i].validate(fmt.Sprintf("enc.mid.%d", i), width, width, opts); err != nil {
			return err
		}
	}

	if err := checkNorm("enc.norm_out", e.NormOut, width, opts); err != nil {
		return err
	}
	return checkConv("enc.conv_out", e.ConvOut, true, 1, 1, width, opts.EmbeddingDim)
}
