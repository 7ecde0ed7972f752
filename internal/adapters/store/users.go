// Package store persists users in sqlite and hashes their passwords.
package store

import (
	"context"
	"fmt"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BLOB PRIMARY KEY NOT NULL,
	name TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL
);`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// Users is the users table behind a connection pool.
type Users struct {
	pool *sqlitex.Pool
	path string
}

// OpenUsers opens (creating if needed) the database at path.
func OpenUsers(path string, poolSize int) (*Users, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepare,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	log.Info().Str("module", "adapters.store").Str("path", path).Int("pool_size", poolSize).Msg("sqlite pool opened")
	return &Users{pool: pool, path: path}, nil
}

func prepare(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (u *Users) LookupByName(ctx context.Context, name string) (domain.UserRecord, bool, error) {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("store: take: %w", err)
	}
	defer u.pool.Put(conn)

	var (
		rec   domain.UserRecord
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT id, name, password FROM users WHERE name = ?;", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec = domain.UserRecord{
				ID:           domain.UserID(stmt.ColumnText(0)),
				Name:         stmt.ColumnText(1),
				PasswordHash: stmt.ColumnText(2),
			}
			found = true
			return nil
		},
	})
	if err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("store: lookup %q: %w", name, err)
	}
	return rec, found, nil
}

func (u *Users) Insert(ctx context.Context, id domain.UserID, name, passwordHash string) (bool, error) {
	conn, err := u.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: take: %w", err)
	}
	defer u.pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO users (id, name, password) VALUES (?, ?, ?) ON CONFLICT DO NOTHING;", &sqlitex.ExecOptions{
		Args: []any{string(id), name, passwordHash},
	})
	if err != nil {
		return false, fmt.Errorf("store: insert %q: %w", name, err)
	}
	return conn.Changes() == 1, nil
}

func (u *Users) Close() error {
	if err := u.pool.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", u.path, err)
	}
	log.Info().Str("module", "adapters.store").Str("path", u.path).Msg("sqlite pool closed")
	return nil
}

var _ core.UserStore = (*Users)(nil)
