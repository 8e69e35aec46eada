package quantizer

import (
	"iter"

	"github.com/ollama/vqtok/internal/orderedmap"
	"github.com/ollama/vqtok/ml"
)

// Namen der Record-Eintraege
const (
	KeyQuantizerLoss   = "quantizer_loss"
	KeyELatentLoss     = "e_latent_loss"
	KeyQLatentLoss     = "q_latent_loss"
	KeyEntropyLoss     = "entropy_loss"
	KeyEncodings       = "encodings"
	KeyEncodingIndices = "encoding_indices"
	KeyRaw             = "raw"
	KeyImage           = "image"
)

// Record haelt benannte Tensoren in Einfuege-Reihenfolge
type Record struct {
	m *orderedmap.Map[string, ml.Tensor]
}

func NewRecord() *Record {
	return &Record{m: orderedmap.New[string, ml.Tensor]()}
}

func (r *Record) Set(name string, t ml.Tensor) {
	r.m.Set(name, t)
}

func (r *Record) Get(name string) (ml.Tensor, bool) {
	if r == nil {
		return nil, false
	}
	return r.m.Get(name)
}

func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return r.m.Keys()
}

func (r *Record) All() iter.Seq2[string, ml.Tensor] {
	if r == nil {
		return func(func(string, ml.Tensor) bool) {}
	}
	return r.m.All()
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return r.m.Len()
}
