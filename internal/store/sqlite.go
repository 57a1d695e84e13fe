package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		destination TEXT CHECK (destination IS NULL OR destination <> ''),
		UNIQUE (owner, name)
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
		identifier TEXT NOT NULL,
		PRIMARY KEY (collection_id, identifier)
	)`,
	`CREATE INDEX IF NOT EXISTS members_identifier ON members (identifier)`,
}

// OpenSQLite opens (creating if needed) a SQLite routing store at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	if path == "" {
		path = "relay.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &sqlStore{db: db, dialect: dialectSQLite}
	if err := s.migrate(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
