// Modul: resblock.go
// Beschreibung: Residual-Block aus Normalisierung, Aktivierung und Faltung
// Hauptstrukturen:
//   - ResBlock: zwei norm -> act -> conv3x3 Stufen plus Shortcut

package maskgit

import (
	"fmt"
	"math/rand/v2"

	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
)

// ResBlock bildet input_dim auf filters Kanaele ab. Bei abweichender
// Kanalzahl projiziert Shortcut die Ausgabe des Zweigs, nicht die Eingabe.
type ResBlock struct {
	Norm1    *nn.Norm   `gguf:"norm1"`
	Conv1    *nn.Conv2D `gguf:"conv1"`
	Norm2    *nn.Norm   `gguf:"norm2"`
	Conv2    *nn.Conv2D `gguf:"conv2"`
	Shortcut *nn.Conv2D `gguf:"shortcut"`
}

func (b *ResBlock) Forward(ctx ml.Context, x ml.Tensor, opts *Options) ml.Tensor {
	act := opts.activation()

	residual := x
	x = b.Norm1.Forward(ctx, x, opts.norm())
	x = act(ctx, x)
	x = b.Conv1.Forward(ctx, x, 1, 1)
	x = b.Norm2.Forward(ctx, x, opts.norm())
	x = act(ctx, x)
	x = b.Conv2.Forward(ctx, x, 1, 1)

	if b.Shortcut != nil {
		residual = b.Shortcut.Forward(ctx, x, 1, 1)
	}

	return x.Add(ctx, residual)
}

func (b *ResBlock) init(ctx ml.Context, rng *rand.Rand, in, filters int, opts *Options) {
	b.Norm1 = &nn.Norm{}
	b.Norm1.Init(ctx, opts.NormType, in)
	b.Conv1 = &nn.Conv2D{}
	b.Conv1.Init(ctx, rng, 3, 3, in, filters, false)
	b.Norm2 = &nn.Norm{}
	b.Norm2.Init(ctx, opts.NormType, filters)
	b.Conv2 = &nn.Conv2D{}
	b.Conv2.Init(ctx, rng, 3, 3, filters, filters, false)

	b.Shortcut = nil
	if in != filters {
		k := shortcutKernel(opts)
		b.Shortcut = &nn.Conv2D{}
		b.Shortcut.Init(ctx, rng, k, k, filters, filters, false)
	}
}

func (b *ResBlock) validate(name string, in, filters int, opts *Options) error {
	if err := checkNorm(name+".norm1", b.Norm1, in, opts); err != nil {
		return err
	}
	if err := checkConv(name+".conv1", b.Conv1, false, 3, 3, in, filters); err != nil {
		return err
	}
	if err := checkNorm(name+".norm2", b.Norm2, filters, opts); err != nil {
		return err
	}
	if err := checkConv(name+".conv2", b.Conv2, false, 3, 3, filters, filters); err != nil {
		return err
	}

	switch {
	case in != filters:
		k := shortcutKernel(opts)
		return checkConv(name+".shortcut", b.Shortcut, false, k, k, filters, filters)
	case b.Shortcut != nil:
		return fmt.Errorf("%w: %s.shortcut present for %d -> %d channels", ErrShape, name, in, filters)
	}

	return nil
}

func shortcutKernel(opts *Options) int {
	if opts.UseConvShortcut {
		return 3
	}
	return 1
}

// ============================================================================
// Validierungs-Helfer
// ============================================================================

func checkTensor(name string, t ml.Tensor, shape ...int) error {
	if t == nil {
		return fmt.Errorf("%w: %s", ErrMissingTensor, name)
	}
	return nn.CheckShape(name, t, shape...)
}

func checkConv(name string, c *nn.Conv2D, bias bool, kh, kw, in, out int) error {
	if c == nil {
		return fmt.Errorf("%w: %s.weight", ErrMissingTensor, name)
	}

	if err := checkTensor(name+".weight", c.Weight, kh, kw, in, out); err != nil {
		return err
	}

	if bias {
		return checkTensor(name+".bias", c.Bias, out)
	} else if c.Bias != nil {
		return fmt.Errorf("%w: unexpected %s.bias", ErrShape, name)
	}
	return nil
}

func checkNorm(name string, n *nn.Norm, channels int, opts *Options) error {
	if n == nil {
		return fmt.Errorf("%w: %s.weight", ErrMissingTensor, name)
	}

	if err := checkTensor(name+".weight", n.Weight, channels); err != nil {
		return err
	}
	if err := checkTensor(name+".bias", n.Bias, channels); err != nil {
		return err
	}

	if opts.NormType == nn.BatchNorm {
		if err := checkTensor(name+".running_mean", n.RunningMean, channels); err != nil {
			return err
		}
		return checkTensor(name+".running_var", n.RunningVar, channels)
	}
	return nil
}
