// convert.go - Konvertierung von Flax-Checkpoints nach GGUF
// Hauptfunktionen: Convert, Options, inferOptions
package convert

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/ollama/vqtok/fs/gguf"
	"github.com/ollama/vqtok/ml/nn"
	"github.com/ollama/vqtok/model/models/maskgit"
)

var (
	ErrMissing  = errors.New("convert: missing array")
	ErrUnmapped = errors.New("convert: unmapped array")
)

// Options steuert die Konvertierung
type Options struct {
	// Model enthaelt Hyperparameter, die sich nicht aus den Gewichten
	// ableiten lassen (z.B. Anzahl der GroupNorm-Gruppen, FSQ-Level)
	Model []maskgit.Option

	// F16 speichert Faltungskerne in halber Genauigkeit
	F16 bool
}

// Convert liest einen Flax-State aus r und schreibt ein GGUF nach f
func Convert(r io.Reader, f *os.File, opts Options) error {
	state, err := decodeState(r)
	if err != nil {
		return err
	}

	params, stats, err := findParams(state)
	if err != nil {
		return err
	}

	arrays := make(map[string]*Array)
	if err := flatten("", params, arrays); err != nil {
		return err
	}

	statArrays := make(map[string]*Array)
	if stats != nil {
		if err := flatten("", stats, statArrays); err != nil {
			return err
		}
	}

	inferred, err := inferOptions(arrays)
	if err != nil {
		return err
	}

	o := maskgit.NewOptions(append(slices.Clone(opts.Model), inferred...)...)
	if err := o.Validate(); err != nil {
		return err
	}

	slog.Info("converting flax checkpoint", "filters", o.Filters, "multipliers", o.ChannelMultipliers,
		"res_blocks", o.NumResBlocks, "norm", o.NormType, "quantizer", o.Quantizer)

	collections := map[string]map[string]*Array{
		collectionParams: arrays,
		collectionStats:  statArrays,
	}

	used := make(map[string]bool)
	var ts []*gguf.Tensor
	for _, n := range tensorNames(&o) {
		a, ok := collections[n.Collection][n.Flax]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrMissing, n.Collection, n.Flax)
		}
		used[n.Collection+"/"+n.Flax] = true

		data, err := a.Floats()
		if err != nil {
			return fmt.Errorf("%s: %w", n.Flax, err)
		}

		kind := gguf.TensorTypeF32
		if opts.F16 && len(a.Shape) == 4 {
			kind = gguf.TensorTypeF16
		}

		t, err := gguf.NewTensor(n.GGUF, a.Shape, data, kind)
		if err != nil {
			return err
		}

		slog.Debug("tensor", "flax", n.Flax, "gguf", n.GGUF, "shape", a.Shape, "dtype", a.DType)
		ts = append(ts, t)
	}

	for collection, m := range collections {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if !used[collection+"/"+k] {
				return fmt.Errorf("%w: %s/%s", ErrUnmapped, collection, k)
			}
		}
	}

	return gguf.Write(f, o.KV(), ts)
}

// findParams sucht params und batch_stats im State. Unterstuetzt werden
// reine Variablen-Dicts, TrainStates (params, opt_state, ...) und
// aeltere Checkpoints mit "target".
func findParams(state map[string]any) (params, stats map[string]any, err error) {
	if target, ok := stringMap(state["target"]); ok {
		state = target
	}

	stats, _ = stringMap(state["batch_stats"])
	if p, ok := stringMap(state["params"]); ok {
		// TrainStates legen die Variablen teils verschachtelt ab
		if inner, ok := stringMap(p["params"]); ok && p["encoder"] == nil {
			p = inner
		}
		return p, stats, nil
	}

	if _, ok := state["encoder"]; ok {
		return state, stats, nil
	}

	return nil, nil, fmt.Errorf("%w: params", ErrMissing)
}

// shapeOf gibt die Form eines Arrays zurueck oder nil
func shapeOf(arrays map[string]*Array, name string) []int {
	if a, ok := arrays[name]; ok {
		return a.Shape
	}
	return nil
}

// inferOptions leitet Hyperparameter aus den Formen der Gewichte ab
func inferOptions(arrays map[string]*Array) ([]maskgit.Option, error) {
	var opts []maskgit.Option

	convIn := shapeOf(arrays, "encoder/Conv_0/kernel")
	if len(convIn) != 4 {
		return nil, fmt.Errorf("%w: encoder/Conv_0/kernel", ErrMissing)
	}
	filters := convIn[3]
	opts = append(opts, maskgit.WithFilters(filters), maskgit.WithOutputDim(convIn[2]))

	if s := shapeOf(arrays, "decoder/Conv_0/kernel"); len(s) == 4 {
		opts = append(opts, maskgit.WithEmbeddingDim(s[2]))
	}

	if s := shapeOf(arrays, "quantizer/codebook"); len(s) == 2 {
		opts = append(opts, maskgit.WithQuantizer("vq"), maskgit.WithCodebookSize(s[0]))
	}

	// Mit Faltungs-Downsampling hat der Encoder mehr als zwei eigene Convs
	opts = append(opts, maskgit.WithConvDownsample(shapeOf(arrays, "encoder/Conv_2/kernel") != nil))

	var kind nn.NormKind
	for k := range arrays {
		for _, candidate := range []nn.NormKind{nn.GroupNorm, nn.LayerNorm, nn.BatchNorm} {
			if strings.Contains(k, "/"+normClass(candidate)+"_") {
				if kind != "" && kind != candidate {
					return nil, fmt.Errorf("convert: mixed normalizations %s and %s", kind, candidate)
				}
				kind = candidate
			}
		}
	}
	if kind != "" {
		opts = append(opts, func(o *maskgit.Options) { o.NormType = kind })
	}

	// Kanal-Multiplikatoren aus den Encoder-Bloecken, NumResBlocks aus den Optionen
	opts = append(opts, func(o *maskgit.Options) {
		if m := inferMultipliers(arrays, filters, o.NumResBlocks); m != nil {
			o.ChannelMultipliers = m
		}
	})

	for k, a := range arrays {
		if strings.HasSuffix(k, "/Conv_2/kernel") && strings.Contains(k, "/ResBlock_") && len(a.Shape) == 4 {
			opts = append(opts, maskgit.WithConvShortcut(a.Shape[0] == 3))
			break
		}
	}

	return opts, nil
}

// inferMultipliers liest die Breite jedes Encoder-Blocks. Die letzten
// numResBlocks Bloecke gehoeren zu mid.
func inferMultipliers(arrays map[string]*Array, filters, numResBlocks int) []int {
	var widths []int
	for i := 0; ; i++ {
		s := shapeOf(arrays, fmt.Sprintf("encoder/ResBlock_%d/Conv_0/kernel", i))
		if len(s) != 4 {
			break
		}
		widths = append(widths, s[3])
	}

	if numResBlocks <= 0 || len(widths) <= numResBlocks || len(widths)%numResBlocks != 0 || filters <= 0 {
		return nil
	}

	stages := len(widths)/numResBlocks - 1
	multipliers := make([]int, stages)
	for i := range multipliers {
		w := widths[i*numResBlocks]
		if w%filters != 0 {
			return nil
		}
		multipliers[i] = w / filters
	}
	return multipliers
}
