// Package db is the fingerprint store: recipients, fingerprint records,
// content-addressed documents and the append-only audit log, persisted in
// a single SQLite database. Every mutating operation appends its audit
// event inside the same transaction, so a failed mutation leaves neither
// a partial row nor a missing audit entry.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/pkg/idgen"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{sqlDB}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.Exec(schema)
	return err
}

// NewID generates a 12-character base-36 row ID using the canonical idgen
// package.
func NewID() string {
	return idgen.New()
}
