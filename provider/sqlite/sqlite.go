// Package sqlite stores cache entry bytes in a local SQLite file, so cached
// responses survive a restart of the process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pr "github.com/unkn0wn-root/offcache/provider"
)

var ErrNilDB = errors.New("sqlite provider: nil db")

type Provider struct {
	db      *sql.DB
	closeDB bool
	now     func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	DB      *sql.DB // opened with sqlitedb.Open (schema must be migrated)
	CloseDB bool    // set true only if this provider exclusively owns the handle
}

func New(cfg Config) (*Provider, error) {
	if cfg.DB == nil {
		return nil, ErrNilDB
	}
	return &Provider{db: cfg.DB, closeDB: cfg.CloseDB, now: time.Now}, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := p.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_values WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache value: %w", err)
	}
	if expiresAt > 0 && p.now().UnixMilli() >= expiresAt {
		_ = p.Del(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = p.now().Add(ttl).UnixMilli()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO cache_values (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("put cache value: %w", err)
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM cache_values WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache value: %w", err)
	}
	return nil
}

func (p *Provider) Close(context.Context) error {
	if p.closeDB {
		return p.db.Close()
	}
	return nil
}
