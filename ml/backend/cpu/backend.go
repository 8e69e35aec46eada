// backend.go - CPU-Backend Struktur und Konstruktor
// Enthaelt: Backend struct, New(), Config(), Get(), NewContext(), Close()
//
// Das Backend fuehrt alle Operationen eager in reinem Go aus. Gewichte
// werden beim Laden nach float32 dekodiert.
package cpu

import (
	"cmp"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ollama/vqtok/fs"
	"github.com/ollama/vqtok/fs/gguf"
	"github.com/ollama/vqtok/logutil"
	"github.com/ollama/vqtok/ml"
	"golang.org/x/sync/errgroup"
)

func init() {
	ml.RegisterBackend("cpu", New)
}

var once sync.Once

// Backend haelt die geladenen Gewichte und Metadaten eines Checkpoints
type Backend struct {
	meta    gguf.KV
	tensors map[string]*Tensor

	// threads begrenzt die Anzahl paralleler Worker pro Operation
	threads int
}

// New erstellt ein neues CPU-Backend fuer das angegebene Modell.
// Ein leerer Pfad ergibt ein Backend ohne Gewichte.
func New(modelPath string, params ml.BackendParams) (ml.Backend, error) {
	b := &Backend{
		meta:    gguf.KV{},
		tensors: make(map[string]*Tensor),
		threads: cmp.Or(params.NumThreads, runtime.GOMAXPROCS(0)),
	}

	if modelPath == "" {
		return b, nil
	}

	f, err := gguf.Open(modelPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	once.Do(func() {
		slog.Info(
			"",
			"architecture", f.KV.Architecture(),
			"name", f.KV.String("general.name"),
			"num_tensors", len(f.Tensors),
			"num_key_values", len(f.KV),
		)
	})

	b.meta = f.KV

	loaded := make([]*Tensor, len(f.Tensors))

	var g errgroup.Group
	g.SetLimit(b.threads)
	for i, ti := range f.Tensors {
		g.Go(func() error {
			_, r, err := f.TensorReader(ti.Name)
			if err != nil {
				return err
			}

			t := &Tensor{b: b, name: ti.Name, shape: ti.Dims()}
			if ti.Type == gguf.TensorTypeI32 {
				t.dtype = ml.DTypeI32
				t.i32, err = gguf.DecodeInts(r, int(ti.NumValues()))
			} else {
				t.dtype = ml.DTypeF32
				t.f32, err = gguf.DecodeFloats(ti.Type, r, int(ti.NumValues()))
			}
			if err != nil {
				return fmt.Errorf("%s: %w", ti.Name, err)
			}

			logutil.Trace("loaded tensor", "name", ti.Name, "type", ti.Type, "shape", t.shape)
			loaded[i] = t
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, t := range loaded {
		b.tensors[t.name] = t
	}

	return b, nil
}

// Config gibt die Metadaten des Checkpoints zurueck
func (b *Backend) Config() fs.Config {
	return b.meta
}

// Get gibt einen geladenen Tensor oder nil zurueck
func (b *Backend) Get(name string) ml.Tensor {
	if t, ok := b.tensors[name]; ok {
		return t
	}

	return nil
}

// NewContext erstellt einen neuen Berechnungskontext
func (b *Backend) NewContext() ml.Context {
	return &Context{b: b, threads: b.threads}
}

// Close gibt die geladenen Gewichte frei
func (b *Backend) Close() {
	clear(b.tensors)
}
