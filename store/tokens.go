// tokens.go - CRUD Operationen fuer Token-Eintraege
// Enthaelt: Put, Get, List, Delete, DeleteModel

package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ollama/vqtok/codes"
)

// formatDims speichert eine Form als "1,16,16"
func formatDims(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseDims(s string) ([]int, error) {
	var shape []int
	for part := range strings.SplitSeq(s, ",") {
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("parse dims %q: %w", s, err)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

// Put speichert Tokens fuer ein Bild. Ein bestehender Eintrag fuer
// dasselbe Paar wird ersetzt.
func (s *Store) Put(ctx context.Context, modelDigest, imageDigest, architecture string, t *codes.Tokens) (*Entry, error) {
	var buf bytes.Buffer
	if err := codes.Encode(&buf, t, s.Compression); err != nil {
		return nil, fmt.Errorf("encode tokens: %w", err)
	}

	u, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	e := &Entry{
		ID:          u.String(),
		ModelDigest: modelDigest,
		ImageDigest: imageDigest,
		Shape:       t.Shape,
		Tokens:      t,
		CreatedAt:   time.Now().UTC(),
	}

	err = s.db.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO models (digest, architecture) VALUES (?, ?)`,
			modelDigest, architecture); err != nil {
			return fmt.Errorf("insert model: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tokens WHERE model_digest = ? AND image_digest = ?`,
			modelDigest, imageDigest); err != nil {
			return fmt.Errorf("delete previous tokens: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tokens (id, model_digest, image_digest, dims, codes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, modelDigest, imageDigest, formatDims(t.Shape), buf.Bytes(), e.CreatedAt); err != nil {
			return fmt.Errorf("insert tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("stored tokens", "id", e.ID, "image", imageDigest, "dims", formatDims(t.Shape), "bytes", buf.Len())
	return e, nil
}

// Get laedt die Tokens fuer ein (Modell, Bild) Paar und erhoeht den Trefferzaehler
func (s *Store) Get(ctx context.Context, modelDigest, imageDigest string) (*Entry, error) {
	var e Entry
	var dims string
	var blob []byte

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, model_digest, image_digest, dims, codes, hits, created_at
		FROM tokens
		WHERE model_digest = ? AND image_digest = ?`,
		modelDigest, imageDigest,
	).Scan(&e.ID, &e.ModelDigest, &e.ImageDigest, &dims, &blob, &e.Hits, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}

	if e.Shape, err = parseDims(dims); err != nil {
		return nil, err
	}

	if e.Tokens, err = codes.Decode(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("decode tokens %s: %w", e.ID, err)
	}

	if _, err := s.db.conn.ExecContext(ctx, `UPDATE tokens SET hits = hits + 1 WHERE id = ?`, e.ID); err != nil {
		return nil, fmt.Errorf("update hits: %w", err)
	}
	e.Hits++

	return &e, nil
}

// List gibt alle Eintraege ohne Payload zurueck, neueste zuerst.
// Ein leerer modelDigest liefert Eintraege aller Modelle.
func (s *Store) List(ctx context.Context, modelDigest string) ([]Entry, error) {
	query := `SELECT id, model_digest, image_digest, dims, hits, created_at FROM tokens`
	var args []any
	if modelDigest != "" {
		query += ` WHERE model_digest = ?`
		args = append(args, modelDigest)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var dims string
		if err := rows.Scan(&e.ID, &e.ModelDigest, &e.ImageDigest, &dims, &e.Hits, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tokens: %w", err)
		}

		if e.Shape, err = parseDims(dims); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}

	return entries, nil
}

// Delete entfernt einen Eintrag anhand seiner ID
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteModel entfernt ein Modell samt aller zugehoerigen Eintraege
func (s *Store) DeleteModel(ctx context.Context, digest string) error {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM models WHERE digest = ?`, digest)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}
