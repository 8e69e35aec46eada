// Package codes - Token-Dateien (.vqt) fuer Codebook-Indizes
//
// Dieses Modul enthaelt:
// - Tokens: Indizes (B, H, W) mit Codebook-Groesse
// - Encode/Decode: Binaerformat mit optionaler Kompression und Checksumme
// - FromTensor/Tensor: Umwandlung von und nach ml.Tensor
//
// Dateiaufbau (little endian):
//
//	magic "VQTK" | version u16 | compression u8 | width u8 | codebook_size u32
//	rank u8 | dims u32... | payload_len u32 | payload | xxhash64 u64
//
// Die Checksumme wird ueber die unkomprimierten Index-Bytes gebildet.
package codes

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/ollama/vqtok/ml"
)

// Version ist die aktuelle Format-Version
const Version uint16 = 1

const (
	maxRank     = 8
	maxElements = 1 << 28
)

var magic = [4]byte{'V', 'Q', 'T', 'K'}

var (
	ErrMagic      = errors.New("codes: keine vqt-datei")
	ErrVersion    = errors.New("codes: nicht unterstuetzte version")
	ErrChecksum   = errors.New("codes: checksumme stimmt nicht")
	ErrIndexRange = errors.New("codes: index ausserhalb des codebooks")
	ErrFormat     = errors.New("codes: ungueltiger header")
)

// Tokens sind die diskreten Codes eines Bild-Batches
type Tokens struct {
	Shape        []int
	CodebookSize int
	Indices      []int32
}

// New prueft Form und Wertebereich und gibt Tokens zurueck
func New(indices []int32, codebookSize int, shape ...int) (*Tokens, error) {
	t := &Tokens{Shape: shape, CodebookSize: codebookSize, Indices: indices}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// FromTensor liest einen I32-Index-Tensor aus
func FromTensor(t ml.Tensor, codebookSize int) (*Tokens, error) {
	if t.DType() != ml.DTypeI32 {
		return nil, fmt.Errorf("%w: dtype %v, erwartet i32", ErrFormat, t.DType())
	}
	return New(t.Ints(), codebookSize, t.Shape()...)
}

// Tensor erzeugt einen I32-Tensor mit der gespeicherten Form
func (t *Tokens) Tensor(ctx ml.Context) ml.Tensor {
	return ctx.Input().FromInts(t.Indices, t.Shape...)
}

// Validate prueft Form und Index-Bereich
func (t *Tokens) Validate() error {
	if t.CodebookSize <= 0 || uint64(t.CodebookSize) > 1<<32-1 {
		return fmt.Errorf("%w: codebook_size %d", ErrFormat, t.CodebookSize)
	}

	if len(t.Shape) == 0 || len(t.Shape) > maxRank {
		return fmt.Errorf("%w: rang %d", ErrFormat, len(t.Shape))
	}

	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: form %v", ErrFormat, t.Shape)
		}
		n *= d
		if n > maxElements {
			return fmt.Errorf("%w: form %v zu gross", ErrFormat, t.Shape)
		}
	}

	if n != len(t.Indices) {
		return fmt.Errorf("%w: form %v passt nicht zu %d indizes", ErrFormat, t.Shape, len(t.Indices))
	}

	for i, id := range t.Indices {
		if id < 0 || int(id) >= t.CodebookSize {
			return fmt.Errorf("%w: indices[%d] = %d, codebook_size %d", ErrIndexRange, i, id, t.CodebookSize)
		}
	}

	return nil
}

// Width ist die Byte-Breite eines Index
func (t *Tokens) Width() int {
	if t.CodebookSize <= 1<<16 {
		return 2
	}
	return 4
}

func (t *Tokens) indexBytes() []byte {
	width := t.Width()
	b := make([]byte, len(t.Indices)*width)
	for i, id := range t.Indices {
		if width == 2 {
			binary.LittleEndian.PutUint16(b[i*2:], uint16(id))
		} else {
			binary.LittleEndian.PutUint32(b[i*4:], uint32(id))
		}
	}
	return b
}

func parseIndices(b []byte, width int) []int32 {
	ids := make([]int32, len(b)/width)
	for i := range ids {
		if width == 2 {
			ids[i] = int32(binary.LittleEndian.Uint16(b[i*2:]))
		} else {
			ids[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
		}
	}
	return ids
}

// Encode schreibt Tokens im vqt-Format
func Encode(w io.Writer, t *Tokens, c Compression) error {
	if err := t.Validate(); err != nil {
		return err
	}

	raw := t.indexBytes()
	payload, c, err := compress(raw, c)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	write := func(v any) {
		if err == nil {
			err = binary.Write(bw, binary.LittleEndian, v)
		}
	}

	write(magic)
	write(Version)
	write(uint8(c))
	write(uint8(t.Width()))
	write(uint32(t.CodebookSize))
	write(uint8(len(t.Shape)))
	for _, d := range t.Shape {
		write(uint32(d))
	}
	write(uint32(len(payload)))
	write(payload)
	write(xxhash.Sum64(raw))
	if err != nil {
		return err
	}

	return bw.Flush()
}

// Decode liest Tokens im vqt-Format
func Decode(r io.Reader) (*Tokens, error) {
	br := bufio.NewReader(r)

	var err error
	read := func(v any) {
		if err == nil {
			err = binary.Read(br, binary.LittleEndian, v)
		}
	}

	var m [4]byte
	read(&m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMagic, err)
	}
	if m != magic {
		return nil, ErrMagic
	}

	var version uint16
	var compression, width, rank uint8
	var codebookSize uint32
	read(&version)
	if err == nil && version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, version)
	}

	read(&compression)
	read(&width)
	read(&codebookSize)
	read(&rank)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	if width != 2 && width != 4 {
		return nil, fmt.Errorf("%w: breite %d", ErrFormat, width)
	}

	if rank == 0 || rank > maxRank {
		return nil, fmt.Errorf("%w: rang %d", ErrFormat, rank)
	}

	dims := make([]uint32, rank)
	read(dims)

	var payloadLen uint32
	read(&payloadLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	shape := make([]int, rank)
	n := 1
	for i, d := range dims {
		shape[i] = int(d)
		n *= max(int(d), 1)
		if d == 0 || n > maxElements {
			return nil, fmt.Errorf("%w: form %v", ErrFormat, dims)
		}
	}

	size := n * int(width)
	if int(payloadLen) > size+size/2+1024 {
		return nil, fmt.Errorf("%w: payload %d bytes fuer %d indizes", ErrFormat, payloadLen, n)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrFormat, err)
	}

	var sum uint64
	read(&sum)
	if err != nil {
		return nil, fmt.Errorf("%w: checksumme: %w", ErrFormat, err)
	}

	raw, err := decompress(payload, Compression(compression), size)
	if err != nil {
		return nil, err
	}

	if xxhash.Sum64(raw) != sum {
		return nil, ErrChecksum
	}

	t := &Tokens{Shape: shape, CodebookSize: int(codebookSize), Indices: parseIndices(raw, int(width))}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteFile schreibt Tokens in eine Datei
func WriteFile(path string, t *Tokens, c Compression) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Encode(f, t, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile liest Tokens aus einer Datei
func ReadFile(path string) (*Tokens, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}
