// Package quantizer - Quantisierung kontinuierlicher Merkmale auf diskrete Codes
//
// Dieses Modul enthaelt:
// - Quantizer: gemeinsames Interface fuer alle Varianten
// - Options: Konstanten und Hyperparameter der Quantisierung
// - Fehler-Definitionen
package quantizer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
)

var (
	ErrConfig     = errors.New("quantizer: invalid configuration")
	ErrIndexRange = errors.New("quantizer: index out of range")
	ErrShape      = nn.ErrShape
)

// Quantizer bildet ein Merkmalsgitter (..., D) auf ein endliches
// Alphabet ab
type Quantizer interface {
	// Forward quantisiert x. Im Trainingsmodus enthaelt der Record
	// zusaetzlich die Verlustterme.
	Forward(ctx ml.Context, x ml.Tensor, train bool) (ml.Tensor, *Record, error)

	// Quantize bildet One-Hot-Vektoren (..., K) auf Codes (..., D) ab
	Quantize(ctx ml.Context, oneHot ml.Tensor) (ml.Tensor, error)

	// Codebook liefert alle Codes als (K, D)
	Codebook(ctx ml.Context) ml.Tensor

	// DecodeIDs liefert die Codes zu Indizes (...) als (..., D)
	DecodeIDs(ctx ml.Context, ids ml.Tensor) (ml.Tensor, error)

	CodebookSize() int
	EmbeddingDim() int

	Init(ctx ml.Context, rng *rand.Rand) error
	Validate() error
}

// ============================================================================
// Options
// ============================================================================

// Options enthaelt alle Konstanten der Quantisierer
type Options struct {
	CodebookSize int
	EmbeddingDim int

	CommitmentCost     float32
	EntropyLossRatio   float32
	EntropyTemperature float32
	EntropyLossType    nn.EntropyLossType

	// Levels gibt die Stufen pro Dimension fuer fsq an
	Levels []int
}

// DefaultOptions entspricht der Referenz-Konfiguration: 1024 Codes,
// 10 Dimensionen und fuer fsq zwei Stufen pro Dimension.
func DefaultOptions() Options {
	return Options{
		CodebookSize:       1024,
		EmbeddingDim:       10,
		CommitmentCost:     .25,
		EntropyLossRatio:   .1,
		EntropyTemperature: .01,
		EntropyLossType:    nn.EntropySoftmax,
		Levels:             slices.Repeat([]int{2}, 10),
	}
}

// validateLosses prueft die Verlust-Konstanten
func (o Options) validateLosses() error {
	if o.CommitmentCost < 0 || o.EntropyLossRatio < 0 {
		return fmt.Errorf("%w: negative loss weight", ErrConfig)
	}

	if o.EntropyLossRatio > 0 {
		if o.EntropyTemperature <= 0 {
			return fmt.Errorf("%w: entropy temperature %v", ErrConfig, o.EntropyTemperature)
		}

		switch o.EntropyLossType {
		case nn.EntropySoftmax, nn.EntropyArgmax:
		default:
			return fmt.Errorf("%w: entropy loss type %q", ErrConfig, o.EntropyLossType)
		}
	}

	return nil
}

// ParseLevels liest eine kommagetrennte Liste wie "8,5,5,5"
func ParseLevels(s string) ([]int, error) {
	var levels []int
	for part := range strings.SplitSeq(s, ",") {
		l, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: levels %q", ErrConfig, s)
		}
		levels = append(levels, l)
	}
	return levels, nil
}
