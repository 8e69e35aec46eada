// dump.go - Textausgabe von Tensoren
// Fuer Index-Gitter (I32) und Merkmale (F32), z.B. vqtok encode --dump
package ml

import (
	"strconv"
	"strings"
)

// DumpOptions konfiguriert die Ausgabe von Dump
type DumpOptions func(*dumpOptions)

type dumpOptions struct {
	precision int
	threshold int
	edge      int
}

// DumpWithPrecision setzt die Nachkommastellen fuer F32
func DumpWithPrecision(n int) DumpOptions {
	return func(o *dumpOptions) { o.precision = n }
}

// DumpWithThreshold setzt die Elementzahl bis zu der alles ausgegeben wird.
// Groessere Tensoren zeigen nur Anfang und Ende jeder Achse.
func DumpWithThreshold(n int) DumpOptions {
	return func(o *dumpOptions) { o.threshold = n }
}

// DumpWithEdgeItems setzt die Elemente pro Achsenende bei gekuerzter Ausgabe
func DumpWithEdgeItems(n int) DumpOptions {
	return func(o *dumpOptions) { o.edge = n }
}

// Dump gibt t zeilenweise aus, die aeusserste Achse zuerst
func Dump(ctx Context, t Tensor, opts ...DumpOptions) string {
	o := dumpOptions{precision: 4, threshold: 1000, edge: 3}
	for _, opt := range opts {
		opt(&o)
	}

	var cells []string
	switch t.DType() {
	case DTypeI32:
		for _, v := range t.Ints() {
			cells = append(cells, strconv.Itoa(int(v)))
		}
	case DTypeF32:
		for _, v := range t.Floats() {
			cells = append(cells, strconv.FormatFloat(float64(v), 'f', o.precision, 32))
		}
	default:
		return "<" + t.DType().String() + ">"
	}

	shape := t.Shape()
	if len(shape) == 0 {
		shape = []int{1}
	}

	if len(cells) <= o.threshold {
		o.edge = len(cells)
	}

	// gleiche Breite pro Zelle, damit Gitter-Spalten untereinander stehen
	width := 0
	for _, c := range cells {
		width = max(width, len(c))
	}

	var sb strings.Builder
	d := dumper{sb: &sb, cells: cells, shape: shape, edge: o.edge, width: width}
	d.axis(0, 0)
	return sb.String()
}

type dumper struct {
	sb    *strings.Builder
	cells []string
	shape []int
	edge  int
	width int
}

// visible liefert die ausgegebenen Positionen einer Achse der Laenge n,
// -1 markiert die Auslassung
func (d *dumper) visible(n int) []int {
	if n <= 2*d.edge {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	idx := make([]int, 0, 2*d.edge+1)
	for i := range d.edge {
		idx = append(idx, i)
	}
	idx = append(idx, -1)
	for i := n - d.edge; i < n; i++ {
		idx = append(idx, i)
	}
	return idx
}

func (d *dumper) axis(dim, offset int) {
	stride := 1
	for _, n := range d.shape[dim+1:] {
		stride *= n
	}

	last := dim == len(d.shape)-1
	sep := ", "
	if !last {
		sep = "," + strings.Repeat("\n", len(d.shape)-dim-1) + strings.Repeat(" ", dim+1)
	}

	d.sb.WriteByte('[')
	for n, i := range d.visible(d.shape[dim]) {
		if n > 0 {
			d.sb.WriteString(sep)
		}

		switch {
		case i < 0:
			d.sb.WriteString("...")
		case last:
			d.sb.WriteString(strings.Repeat(" ", d.width-len(d.cells[offset+i])))
			d.sb.WriteString(d.cells[offset+i])
		default:
			d.axis(dim+1, offset+i*stride)
		}
	}
	d.sb.WriteByte(']')
}
