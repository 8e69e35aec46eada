// Modul: decoder.go
// Beschreibung: Spiegelbild des Encoders mit Upsampling und Sigmoid-Ausgabe
// Hauptstrukturen:
//   - Decoder: conv_in, mid, Stufen von breit nach schmal, Ausgabe
//   - DecoderStage: Residual-Bloecke und Faltung nach dem Upsampling

package maskgit

import (
	"fmt"
	"math/rand/v2"

	"github.com/ollama/vqtok/logutil"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
)

type DecoderStage struct {
	Blocks []ResBlock `gguf:"res"`

	// Upsample ist die Faltung nach der Vergroesserung, fehlt in Stufe 0
	Upsample *nn.Conv2D `gguf:"upsample"`
}

// Decoder speichert Stufe i unter up.i, ausgefuehrt wird von der
// breitesten zur schmalsten Stufe
type Decoder struct {
	ConvIn  *nn.Conv2D     `gguf:"conv_in"`
	Mid     []ResBlock     `gguf:"mid"`
	Stages  []DecoderStage `gguf:"up"`
	NormOut *nn.Norm       `gguf:"norm_out"`
	ConvOut *nn.Conv2D     `gguf:"conv_out"`
}

func newDecoder(opts *Options) *Decoder {
	d := Decoder{
		Mid:    make([]ResBlock, opts.NumResBlocks),
		Stages: make([]DecoderStage, len(opts.ChannelMultipliers)),
	}

	for i := range d.Stages {
		d.Stages[i].Blocks = make([]ResBlock, opts.NumResBlocks)
	}

	return &d
}

func (d *Decoder) Forward(ctx ml.Context, x ml.Tensor, opts *Options) ml.Tensor {
	x = d.ConvIn.Forward(ctx, x, 1, 1)
	for i := range d.Mid {
		x = d.Mid[i].Forward(ctx, x, opts)
	}

	for i := len(d.Stages) - 1; i >= 0; i-- {
		stage := d.Stages[i]
		for j := range stage.Blocks {
			x = stage.Blocks[j].Forward(ctx, x, opts)
		}

		if i > 0 {
			x = nn.Upsample(ctx, x, 2, opts.Upsample)
			x = stage.Upsample.Forward(ctx, x, 1, 1)
		}

		logutil.Trace("decoder stage", "stage", i, "shape", x.Shape())
	}

	x = d.NormOut.Forward(ctx, x, opts.norm())
	x = opts.activation()(ctx, x)
	x = d.ConvOut.Forward(ctx, x, 1, 1)
	return x.Sigmoid(ctx)
}

func (d *Decoder) init(ctx ml.Context, rng *rand.Rand, opts *Options) {
	last := len(d.Stages) - 1
	width := opts.width(last)

	d.ConvIn = &nn.Conv2D{}
	d.ConvIn.Init(ctx, rng, 3, 3, opts.EmbeddingDim, width, true)
	for i := range d.Mid {
		d.Mid[i].init(ctx, rng, width, width, opts)
	}

	for i := last; i >= 0; i-- {
		stage := &d.Stages[i]
		for j := range stage.Blocks {
			stage.Blocks[j].init(ctx, rng, width, opts.width(i), opts)
			width = opts.width(i)
		}

		stage.Upsample = nil
		if i > 0 {
			stage.Upsample = &nn.Conv2D{}
			stage.Upsample.Init(ctx, rng, 3, 3, width, width, true)
		}
	}

	d.NormOut = &nn.Norm{}
	d.NormOut.Init(ctx, opts.NormType, width)
	d.ConvOut = &nn.Conv2D{}
	d.ConvOut.Init(ctx, rng, 3, 3, width, opts.OutputDim, true)
}

func (d *Decoder) validate(opts *Options) error {
	last := len(d.Stages) - 1
	width := opts.width(last)

	if err := checkConv("dec.conv_in", d.ConvIn, true, 3, 3, opts.EmbeddingDim, width); err != nil {
		return err
	}

	for i := range d.Mid {
		if err := d.Mid[i].validate(fmt.Sprintf("dec.mid.%d", i), width, width, opts); err != nil {
			return err
		}
	}

	for i := last; i >= 0; i-- {
		stage := d.Stages[i]
		for j := range stage.Blocks {
			if err := stage.Blocks[j].validate(fmt.Sprintf("dec.up.%d.res.%d", i, j), width, opts.width(i), opts); err != nil {
				return err
			}
			width = opts.width(i)
		}

		name := fmt.Sprintf("dec.up.%d.upsample", i)
		switch {
		case i > 0:
			if err := checkConv(name, stage.Upsample, true, 3, 3, width, width); err != nil {
				return err
			}
		case stage.Upsample != nil:
			return fmt.Errorf("%w: unexpected %s", ErrShape, name)
		}
	}

	if err := checkNorm("dec.norm_out", d.NormOut, width, opts); err != nil {
		return err
	}
	return checkConv("dec.conv_out", d.ConvOut, true, 3, 3, width, opts.OutputDim)
}
