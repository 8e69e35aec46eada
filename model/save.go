// save.go - Speichern von Modellen als GGUF
// Enthaelt: Tensors(), Save(), SaveOptions

package model

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"reflect"
	"slices"

	"github.com/ollama/vqtok/fs/gguf"
	"github.com/ollama/vqtok/ml"
)

// SaveOptions steuert das Format der geschriebenen Tensoren
type SaveOptions struct {
	// F16 speichert Faltungskerne in halber Genauigkeit. Biases,
	// Normalisierungen und Codebooks bleiben F32.
	F16 bool
}

// Tensors liefert alle Parameter eines Modells unter ihrem GGUF-Namen
func Tensors(m Model) (map[string]ml.Tensor, error) {
	tensors := make(map[string]ml.Tensor)

	var err error
	collectFields(reflect.ValueOf(m).Elem(), func(name string, t ml.Tensor) {
		if _, ok := tensors[name]; ok && err == nil {
			err = fmt.Errorf("duplicate tensor name %q", name)
		}
		tensors[name] = t
	})

	return tensors, err
}

// Save schreibt Metadaten und Parameter von m nach path
func Save(path string, m Model, opts SaveOptions) error {
	tensors, err := Tensors(m)
	if err != nil {
		return err
	}

	ts := make([]*gguf.Tensor, 0, len(tensors))
	for _, name := range slices.Sorted(maps.Keys(tensors)) {
		t := tensors[name]

		var gt *gguf.Tensor
		switch {
		case t.DType() == ml.DTypeI32:
			gt, err = gguf.NewIntTensor(name, t.Shape(), t.Ints())
		case opts.F16 && len(t.Shape()) == 4:
			gt, err = gguf.NewTensor(name, t.Shape(), t.Floats(), gguf.TensorTypeF16)
		default:
			gt, err = gguf.NewTensor(name, t.Shape(), t.Floats(), gguf.TensorTypeF32)
		}
		if err != nil {
			return err
		}

		ts = append(ts, gt)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gguf.Write(f, m.Config(), ts); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	slog.Info("model saved", "path", path, "architecture", m.Config().Architecture(), "tensors", len(ts), "f16", opts.F16)
	return f.Close()
}
