// Modul: store.go
// Beschreibung: Token-Cache auf SQLite-Basis.
// Speichert Codebook-Indizes pro (Modell, Bild) im vqt-Format, damit
// wiederholte Anfragen keinen Encoder-Durchlauf benoetigen.

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ollama/vqtok/codes"
)

var ErrNotFound = errors.New("store: eintrag nicht gefunden")

// Entry ist ein gespeichertes Token-Ergebnis. Bei List bleibt Tokens leer.
type Entry struct {
	ID          string
	ModelDigest string
	ImageDigest string
	Shape       []int
	Tokens      *codes.Tokens
	Hits        int
	CreatedAt   time.Time
}

type Store struct {
	// Compression fuer neu geschriebene Eintraege
	Compression codes.Compression

	path string
	db   *database
}

// Open oeffnet oder erstellt die Datenbank unter path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := newDatabase(path)
	if err != nil {
		return nil, err
	}

	return &Store{Compression: codes.CompressionZstd, path: path, db: db}, nil
}

// Path gibt den Datenbankpfad zurueck
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Digest bildet den Inhalts-Hash fuer Bilder und Checkpoints
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DigestFile hasht eine Datei ohne sie komplett in den Speicher zu laden
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
