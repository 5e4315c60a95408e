package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the group_levels table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS group_levels (
    group_name TEXT PRIMARY KEY,
    level      DOUBLE PRECISION NOT NULL CHECK (level >= 0 AND level <= 1),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pinger is implemented by *pgxpool.Pool and *pgx.Conn.
type pinger interface {
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL table.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] using db. The caller is
// responsible for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, verifies the connection and applies
// [Schema]. The returned close function releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("settings: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("settings: connect: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate executes the [Schema] DDL, creating the group_levels table if it
// does not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("settings: migrate: %w", err)
	}
	return nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context, group string) (float64, bool, error) {
	const query = `SELECT level FROM group_levels WHERE group_name = $1`

	var level float64
	err := s.db.QueryRow(ctx, query, group).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("settings: load %q: %w", group, err)
	}
	return level, true, nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, group string, level float64) error {
	if err := checkLevel(group, level); err != nil {
		return err
	}
	const query = `
		INSERT INTO group_levels (group_name, level) VALUES ($1, $2)
		ON CONFLICT (group_name) DO UPDATE SET
			level = EXCLUDED.level,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, group, level); err != nil {
		return fmt.Errorf("settings: save %q: %w", group, err)
	}
	return nil
}

// All implements [Store].
func (s *PostgresStore) All(ctx context.Context) (map[string]float64, error) {
	const query = `SELECT group_name, level FROM group_levels ORDER BY group_name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			name  string
			level float64
		)
		if err := rows.Scan(&name, &level); err != nil {
			return nil, fmt.Errorf("settings: list scan: %w", err)
		}
		out[name] = level
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	return out, nil
}

// Ping implements [Store]. When the underlying DB cannot ping, a trivial
// query is issued instead.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("settings: ping: %w", err)
		}
		return nil
	}
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("settings: ping: %w", err)
	}
	return nil
}
