package keylog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite keeps the log in the database opened by sqlitedb.Open, next to the values
// of the sqlite provider, so a restarted daemon evicts in the same order.
type SQLite struct {
	db      *sql.DB
	closeDB bool
}

var _ KeyLog = (*SQLite)(nil)

// NewSQLite wraps a migrated database. Set closeDB only if the log owns db.
func NewSQLite(db *sql.DB, closeDB bool) *SQLite {
	return &SQLite{db: db, closeDB: closeDB}
}

func (s *SQLite) Create(ctx context.Context, cache string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_names (name, created_at) VALUES (?, ?)`,
		cache, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create cache %s: %w", cache, err)
	}
	return nil
}

func (s *SQLite) Caches(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_names ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	return scanStrings(rows)
}

func (s *SQLite) Drop(ctx context.Context, cache string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin drop %s: %w", cache, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_names WHERE name = ?`, cache)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("drop cache %s: %w", cache, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_keys WHERE cache = ?`, cache); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("drop keys of %s: %w", cache, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit drop %s: %w", cache, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) Append(ctx context.Context, cache, key string) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM cache_names WHERE name = ?`, cache).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return 0, ErrNoCache
	}
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("lookup cache %s: %w", cache, err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE keylog_seq SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&seq); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_keys (cache, key, seq) VALUES (?, ?, ?)
		 ON CONFLICT(cache, key) DO UPDATE SET seq = excluded.seq`,
		cache, key, seq,
	); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("append key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return uint64(seq), nil
}

func (s *SQLite) Seq(ctx context.Context, cache, key string) (uint64, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM cache_keys WHERE cache = ? AND key = ?`, cache, key,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get seq: %w", err)
	}
	return uint64(seq), true, nil
}

func (s *SQLite) Keys(ctx context.Context, cache string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_keys WHERE cache = ? ORDER BY seq`, cache,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys of %s: %w", cache, err)
	}
	return scanStrings(rows)
}

func (s *SQLite) Remove(ctx context.Context, cache, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_keys WHERE cache = ? AND key = ?`, cache, key,
	)
	if err != nil {
		return false, fmt.Errorf("remove key: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) Close(context.Context) error {
	if s.closeDB {
		return s.db.Close()
	}
	return nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
