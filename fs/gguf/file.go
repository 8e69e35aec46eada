// Package gguf - GGUF File Struktur und Open/Close
//
// Dieses Modul enthaelt die File-Hauptstruktur fuer GGUF-Dateien:
// - File: Repraesentiert eine geoeffnete GGUF-Datei
// - Open: Oeffnet und parst Header, KV-Paare und Tensor-Infos
// - TensorInfo/TensorReader: Zugriff auf einzelne Tensors
// - Close: Schliesst die Datei
package gguf

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"
)

// File repraesentiert eine geoeffnete GGUF-Datei
type File struct {
	Magic   [4]byte
	Version uint32

	KV      KV
	Tensors []TensorInfo

	offset int64
	file   *os.File
	reader *countingReader
}

// countingReader zaehlt die gelesenen Bytes fuer die Offset-Berechnung
type countingReader struct {
	r      io.Reader
	offset int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.offset += int64(n)
	return n, err
}

// Open oeffnet eine GGUF-Datei und parst den Header
func Open(path string) (_ *File, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	f := &File{KV: make(KV), file: file}
	f.reader = &countingReader{r: bufio.NewReaderSize(f.file, 32<<10)}

	if err := binary.Read(f.reader, binary.LittleEndian, &f.Magic); err != nil {
		return nil, err
	}

	if !bytes.Equal(f.Magic[:], []byte("GGUF")) {
		return nil, fmt.Errorf("%w file type %v", ErrUnsupported, f.Magic)
	}

	if err := binary.Read(f.reader, binary.LittleEndian, &f.Version); err != nil {
		return nil, err
	}

	if f.Version < 3 {
		return nil, fmt.Errorf("%w version %v", ErrUnsupported, f.Version)
	}

	numTensors, err := read[uint64](f)
	if err != nil {
		return nil, err
	}

	numKV, err := read[uint64](f)
	if err != nil {
		return nil, err
	}

	for range numKV {
		key, value, err := f.readKeyValue()
		if err != nil {
			return nil, err
		}
		f.KV[key] = value
	}

	f.Tensors = make([]TensorInfo, 0, numTensors)
	for range numTensors {
		t, err := f.readTensor()
		if err != nil {
			return nil, err
		}
		f.Tensors = append(f.Tensors, t)
	}

	alignment := int64(cmp.Or(f.KV.Uint("general.alignment"), 32))
	f.offset = f.reader.offset + padding(f.reader.offset, alignment)
	return f, nil
}

// Close schliesst die Datei
func (f *File) Close() error {
	return f.file.Close()
}

// TensorInfo sucht Tensor-Info nach Name
func (f *File) TensorInfo(name string) (TensorInfo, bool) {
	if index := slices.IndexFunc(f.Tensors, func(t TensorInfo) bool {
		return t.Name == name
	}); index >= 0 {
		return f.Tensors[index], true
	}

	return TensorInfo{}, false
}

// TensorReader liefert Tensor-Info und einen Reader fuer die Tensor-Daten
func (f *File) TensorReader(name string) (TensorInfo, io.Reader, error) {
	t, ok := f.TensorInfo(name)
	if !ok {
		return TensorInfo{}, nil, fmt.Errorf("tensor %s not found", name)
	}

	return t, io.NewSectionReader(f.file, f.offset+int64(t.Offset), t.NumBytes()), nil
}

// Floats liest einen Tensor vollstaendig und dekodiert ihn nach float32
func (f *File) Floats(name string) (TensorInfo, []float32, error) {
	t, r, err := f.TensorReader(name)
	if err != nil {
		return TensorInfo{}, nil, err
	}

	fs, err := DecodeFloats(t.Type, r, int(t.NumValues()))
	if err != nil {
		return TensorInfo{}, nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	return t, fs, nil
}

// padding berechnet das Padding fuer Alignment
func padding(offset, align int64) int64 {
	return (align - offset%align) % align
}
