package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for the target dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*sqlStore)(nil)

func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context, ddl []string) error {
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) CreateCollection(ctx context.Context, owner, name string) (string, error) {
	id := uuid.New().String()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO collections (id, owner, name) VALUES (?, ?, ?) ON CONFLICT (owner, name) DO NOTHING`),
		id, owner, name)
	if err != nil {
		return "", fmt.Errorf("insert collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert collection: %w", err)
	}
	if n == 0 {
		return "", ErrAlreadyExists
	}
	return id, nil
}

func (s *sqlStore) DeleteCollection(ctx context.Context, owner, name string) (deleted bool, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	var id string
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT id FROM collections WHERE owner = ? AND name = ?`), owner, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select collection: %w", err)
	}

	// Members go first so the cascade holds even where foreign keys are not enforced.
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM members WHERE collection_id = ?`), id); err != nil {
		return false, fmt.Errorf("delete members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM collections WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("delete collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *sqlStore) AddMember(ctx context.Context, collectionID, identifier string) (added bool, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	var one int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM collections WHERE id = ?`), collectionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("select collection: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO members (collection_id, identifier) VALUES (?, ?) ON CONFLICT (collection_id, identifier) DO NOTHING`),
		collectionID, identifier)
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) RemoveMember(ctx context.Context, collectionID, identifier string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM members WHERE collection_id = ? AND identifier = ?`), collectionID, identifier)
	if err != nil {
		return false, fmt.Errorf("delete member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete member: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) SetDestination(ctx context.Context, collectionID, destination string) error {
	if destination == "" {
		return ErrInvalidDestination
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE collections SET destination = ? WHERE id = ?`), destination, collectionID)
	if err != nil {
		return fmt.Errorf("update destination: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update destination: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectCollections = `SELECT c.id, c.owner, c.name, c.destination,
	(SELECT COUNT(*) FROM members m WHERE m.collection_id = c.id)
	FROM collections c`

func (s *sqlStore) queryCollections(ctx context.Context, query string, args ...any) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Collection{}
	for rows.Next() {
		var (
			c    Collection
			dest sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Owner, &c.Name, &dest, &c.MemberCount); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		c.Destination = dest.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return out, nil
}

func (s *sqlStore) ListCollections(ctx context.Context, owner string) ([]Collection, error) {
	return s.queryCollections(ctx, selectCollections+` WHERE c.owner = ? ORDER BY c.seq`, owner)
}

func (s *sqlStore) ListAllCollections(ctx context.Context) ([]Collection, error) {
	return s.queryCollections(ctx, selectCollections+` ORDER BY c.seq`)
}

func (s *sqlStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	cs, err := s.queryCollections(ctx, selectCollections+` WHERE c.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, ErrNotFound
	}
	return &cs[0], nil
}

func (s *sqlStore) ListMembers(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT identifier FROM members WHERE collection_id = ? ORDER BY identifier`), collectionID)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *sqlStore) ResolveCollectionID(ctx context.Context, owner, name string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id FROM collections WHERE owner = ? AND name = ?`), owner, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve collection: %w", err)
	}
	return id, true, nil
}

func (s *sqlStore) Routes(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT c.id, c.destination, m.identifier
		FROM collections c LEFT JOIN members m ON m.collection_id = c.id
		ORDER BY c.seq, m.identifier`)
	if err != nil {
		return nil, fmt.Errorf("select routes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var routes []Route
	for rows.Next() {
		var (
			id         string
			dest, memb sql.NullString
		)
		if err := rows.Scan(&id, &dest, &memb); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		if len(routes) == 0 || routes[len(routes)-1].CollectionID != id {
			routes = append(routes, Route{CollectionID: id, Destination: dest.String})
		}
		if memb.Valid {
			last := &routes[len(routes)-1]
			last.Members = append(last.Members, memb.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routes: %w", err)
	}
	return routes, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
