package db

import (
	"database/sql"
	"fmt"
)

const sqlitePragmas = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=FULL;
PRAGMA busy_timeout=5000;
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
    k TEXT PRIMARY KEY,
    v TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS order_journal (
    id TEXT PRIMARY KEY,
    idem_key TEXT NOT NULL,
    client_order_id TEXT NOT NULL DEFAULT '',
    inst_id TEXT NOT NULL DEFAULT '',
    side TEXT NOT NULL DEFAULT '',
    qty REAL NOT NULL DEFAULT 0,
    event TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_order_journal_key ON order_journal(idem_key);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv (
    k TEXT PRIMARY KEY,
    v TEXT NOT NULL,
    updated_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS order_journal (
    id TEXT PRIMARY KEY,
    idem_key TEXT NOT NULL,
    client_order_id TEXT NOT NULL DEFAULT '',
    inst_id TEXT NOT NULL DEFAULT '',
    side TEXT NOT NULL DEFAULT '',
    qty DOUBLE PRECISION NOT NULL DEFAULT 0,
    event TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_order_journal_key ON order_journal(idem_key);
`

// ApplyMigrations creates the tables used by the store and journal.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}

	if d.Driver == DriverPostgres {
		if _, err := d.DB.Exec(postgresSchema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		return nil
	}

	if _, err := d.DB.Exec(sqlitePragmas); err != nil {
		return fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := d.DB.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	// Older files predate the detail column.
	return ensureColumn(d.DB, "order_journal", "detail", "TEXT NOT NULL DEFAULT ''")
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
