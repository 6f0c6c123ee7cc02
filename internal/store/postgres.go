package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store on a single nodes table: one row per
// document or collection entry, keyed by full path. It deliberately keeps
// the adapter's single-path semantics (each operation touches one path) so
// both backends expose the same consistency model.
type PostgresStore struct {
	db *sql.DB
}

const nodesSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	path   TEXT PRIMARY KEY,
	parent TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS nodes_parent_idx ON nodes (parent, name);
`

// OpenPostgres connects to Postgres and ensures the nodes table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, nodesSchema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func splitParent(path string) (parent, name string) {
	segments := split(path)
	if len(segments) < 2 {
		return "", path
	}
	return Join(segments[:len(segments)-1]...), segments[len(segments)-1]
}

func (s *PostgresStore) Get(ctx context.Context, path string, dest any) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = $1`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	parent, name := splitParent(path)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (path, parent, name, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value
	`, path, parent, name, raw)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, path string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	parent, name := splitParent(path)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (path, parent, name, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE SET value = nodes.value || EXCLUDED.value
	`, path, parent, name, raw)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE path = $1 OR path LIKE $1 || '/%'`, path)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Push(path string) string {
	return NewPushKey()
}

func (s *PostgresStore) Transaction(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", path, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current json.RawMessage
	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = $1 FOR UPDATE`, path).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", path, err)
	}
	if err == nil {
		current = json.RawMessage(raw)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	parent, name := splitParent(path)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (path, parent, name, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value
	`, path, parent, name, encoded); err != nil {
		return fmt.Errorf("transaction %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Children(ctx context.Context, path string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM nodes WHERE parent = $1 ORDER BY name`, path)
	if err != nil {
		return nil, fmt.Errorf("children %s: %w", path, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var raw []byte
		if err := rows.Scan(&entry.Key, &raw); err != nil {
			return nil, fmt.Errorf("children %s: %w", path, err)
		}
		entry.Value = json.RawMessage(raw)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("children %s: %w", path, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

func (s *PostgresStore) QueryChildren(ctx context.Context, path string, q Query) ([]Entry, error) {
	entries, err := s.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	return applyQuery(entries, q)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
