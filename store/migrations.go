// migrations.go - Datenbank-Schema-Migrationen
// Enthaelt: migrate(), migrateV1ToV2()

package store

import "fmt"

// migrate fuehrt Datenbank-Schema-Migrationen durch
func (db *database) migrate() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for version < currentSchemaVersion {
		switch version {
		case 1:
			// hits Spalte und Index auf created_at
			if err := db.migrateV1ToV2(); err != nil {
				return fmt.Errorf("migrate v1 to v2: %w", err)
			}
			version = 2
		default:
			// Unbekannte Version - auf aktuell setzen
			version = currentSchemaVersion
		}
	}

	return nil
}

// migrateV1ToV2 fuegt den Trefferzaehler zur tokens Tabelle hinzu
func (db *database) migrateV1ToV2() error {
	_, err := db.conn.Exec(`ALTER TABLE tokens ADD COLUMN hits INTEGER NOT NULL DEFAULT 0;`)
	if err != nil && !duplicateColumnError(err) {
		return fmt.Errorf("add hits column: %w", err)
	}

	if _, err := db.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_tokens_created_at ON tokens(created_at);`); err != nil {
		return fmt.Errorf("create created_at index: %w", err)
	}

	if _, err := db.conn.Exec(`UPDATE meta SET schema_version = 2;`); err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	return nil
}
