// database.go - Kern-Datenbank-Funktionen
// Enthaelt: database struct, newDatabase, Close, init, Hilfsfunktionen

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion definiert die aktuelle Datenbank-Schema-Version.
// Wird bei Schema-Aenderungen erhoeht, die Migrationen erfordern.
const currentSchemaVersion = 2

// database umhuellt die SQLite-Verbindung.
// Mehrere Leser duerfen parallel lesen, Schreiber werden von SQLite
// serialisiert. Im WAL-Modus blockieren Leser keine Schreiber.
type database struct {
	conn *sql.DB
}

// newDatabase erstellt eine neue Datenbankverbindung
func newDatabase(dbPath string) (*database, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &database{conn: conn}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return db, nil
}

// Close schliesst die Datenbankverbindung
func (db *database) Close() error {
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return db.conn.Close()
}

// init legt das Schema an. Neue Datenbanken starten direkt auf der
// aktuellen Version, bestehende werden per migrate nachgezogen.
func (db *database) init() error {
	if _, err := db.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO meta (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS models (
		digest TEXT PRIMARY KEY,
		architecture TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		model_digest TEXT NOT NULL,
		image_digest TEXT NOT NULL,
		dims TEXT NOT NULL,
		codes BLOB NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (model_digest, image_digest),
		FOREIGN KEY (model_digest) REFERENCES models(digest) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tokens_created_at ON tokens(created_at);
	`, currentSchemaVersion)

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	if err := db.migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	return nil
}

// getSchemaVersion liest die gespeicherte Schema-Version
func (db *database) getSchemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow(`SELECT schema_version FROM meta WHERE id = 1`).Scan(&version)
	return version, err
}

// tx fuehrt fn in einer Transaktion aus
func (db *database) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// duplicateColumnError prueft ob ein SQLite-Fehler eine doppelte Spalte meldet
func duplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
