package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const defaultPostgresDSN = "postgres://localhost/chanrelay?sslmode=disable"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		seq BIGSERIAL PRIMARY KEY,
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

// OpenPostgres connects to Postgres with dsn (falls back to a local default) and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &sqlStore{db: db, dialect: dialectPostgres}
	if err := s.migrate(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
