// names.go - Abbildung der automatischen Flax-Modulnamen auf GGUF-Namen
// Hauptfunktionen: tensorNames, normClass
//
// Flax vergibt in @nn.compact Modulen Namen pro Klasse in Aufrufreihenfolge
// (Conv_0, Conv_1, ResBlock_0, GroupNorm_0, ...). Die Zuordnung entsteht
// durch Nachspielen der Konstruktion von Encoder und Decoder.
package convert

import (
	"fmt"

	"github.com/ollama/vqtok/ml/nn"
	"github.com/ollama/vqtok/model/models/maskgit"
)

// Sammlungen im Flax-State
const (
	collectionParams = "params"
	collectionStats  = "batch_stats"
)

// tensorName verbindet einen Flax-Pfad mit dem GGUF-Namen
type tensorName struct {
	Collection string
	Flax       string
	GGUF       string
}

// normClass gibt den Flax-Klassennamen der Normalisierung zurueck
func normClass(kind nn.NormKind) string {
	switch kind {
	case nn.LayerNorm:
		return "LayerNorm"
	case nn.BatchNorm:
		return "BatchNorm"
	default:
		return "GroupNorm"
	}
}

// scope zaehlt Modulnamen pro Klasse innerhalb eines compact-Moduls
type scope struct {
	flax, gguf string
	counts     map[string]int
	names      *[]tensorName
	norm       nn.NormKind
}

func newScope(flax, gguf string, norm nn.NormKind, names *[]tensorName) *scope {
	return &scope{flax: flax, gguf: gguf, counts: make(map[string]int), names: names, norm: norm}
}

// next vergibt den naechsten Namen fuer class, z.B. Conv_3
func (s *scope) next(class string) string {
	n := s.counts[class]
	s.counts[class]++
	return fmt.Sprintf("%s/%s_%d", s.flax, class, n)
}

func (s *scope) add(collection, flax, gguf string) {
	*s.names = append(*s.names, tensorName{Collection: collection, Flax: flax, GGUF: gguf})
}

func (s *scope) conv(gguf string, bias bool) {
	name := s.next("Conv")
	s.add(collectionParams, name+"/kernel", s.gguf+"."+gguf+".weight")
	if bias {
		s.add(collectionParams, name+"/bias", s.gguf+"."+gguf+".bias")
	}
}

func (s *scope) normalization(gguf string) {
	name := s.next(normClass(s.norm))
	s.add(collectionParams, name+"/scale", s.gguf+"."+gguf+".weight")
	s.add(collectionParams, name+"/bias", s.gguf+"."+gguf+".bias")
	if s.norm == nn.BatchNorm {
		s.add(collectionStats, name+"/mean", s.gguf+"."+gguf+".running_mean")
		s.add(collectionStats, name+"/var", s.gguf+"."+gguf+".running_var")
	}
}

// resBlock erzeugt einen Unter-Scope fuer ResBlock_n
func (s *scope) resBlock(gguf string, in, filters int) {
	b := newScope(s.next("ResBlock"), s.gguf+"."+gguf, s.norm, s.names)
	b.normalization("norm1")
	b.conv("conv1", false)
	b.normalization("norm2")
	b.conv("conv2", false)
	if in != filters {
		b.conv("shortcut", false)
	}
}

// tensorNames spielt die Modulkonstruktion fuer o nach
func tensorNames(o *maskgit.Options) []tensorName {
	var names []tensorName
	width := func(i int) int { return o.Filters * o.ChannelMultipliers[i] }
	last := len(o.ChannelMultipliers) - 1

	enc := newScope("encoder", "enc", o.NormType, &names)
	enc.conv("conv_in", false)
	in := o.Filters
	for i := range o.ChannelMultipliers {
		for j := range o.NumResBlocks {
			enc.resBlock(fmt.Sprintf("down.%d.res.%d", i, j), in, width(i))
			in = width(i)
		}
		if o.ConvDownsample && i < last {
			enc.conv(fmt.Sprintf("down.%d.downsample", i), true)
		}
	}
	for j := range o.NumResBlocks {
		enc.resBlock(fmt.Sprintf("mid.%d", j), in, in)
	}
	enc.normalization("norm_out")
	enc.conv("conv_out", true)

	dec := newScope("decoder", "dec", o.NormType, &names)
	dec.conv("conv_in", true)
	in = width(last)
	for j := range o.NumResBlocks {
		dec.resBlock(fmt.Sprintf("mid.%d", j), in, in)
	}
	for i := last; i >= 0; i-- {
		for j := range o.NumResBlocks {
			dec.resBlock(fmt.Sprintf("up.%d.res.%d", i, j), in, width(i))
			in = width(i)
		}
		if i > 0 {
			dec.conv(fmt.Sprintf("up.%d.upsample", i), true)
		}
	}
	dec.normalization("norm_out")
	dec.conv("conv_out", true)

	if o.Quantizer == "vq" {
		names = append(names, tensorName{Collection: collectionParams, Flax: "quantizer/codebook", GGUF: "quantizer.codebook"})
	}

	return names
}
