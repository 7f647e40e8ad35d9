// Package keylog keeps the insertion order of every named cache.
//
// Cache enumeration order decides which entries eviction removes first, and byte
// providers (ristretto, bigcache, redis, S3) do not expose an ordered key listing.
// A KeyLog records (key, seq) per cache, where seq is a monotonically increasing
// insertion number shared by all caches of the log, so eviction is deterministic
// regardless of where values live.
//
// Use Local for in-process caches, Redis when several processes share a provider,
// and SQLite to keep the order across restarts next to the sqlite provider.
package keylog

import (
	"context"
	"errors"
)

// ErrNoCache is returned by Append for a cache that was never created or has
// been dropped. Only Create registers names.
var ErrNoCache = errors.New("keylog: cache not registered")

// KeyLog abstracts where cache names and per-cache insertion order live.
type KeyLog interface {
	// Create registers cache; existing caches are left untouched.
	Create(ctx context.Context, cache string) error
	// Caches returns all registered cache names in creation order.
	Caches(ctx context.Context) ([]string, error)
	// Drop forgets cache and all of its keys. Reports whether it existed.
	Drop(ctx context.Context, cache string) (bool, error)

	// Append records key as the newest entry of cache and returns its new seq.
	// An existing key moves to the tail. Fails with ErrNoCache when cache is not
	// registered.
	Append(ctx context.Context, cache, key string) (uint64, error)
	// Seq returns the seq of key; ok=false when key is not logged.
	Seq(ctx context.Context, cache, key string) (seq uint64, ok bool, err error)
	// Keys returns the keys of cache, oldest first.
	Keys(ctx context.Context, cache string) ([]string, error)
	// Remove forgets key. Reports whether it was logged.
	Remove(ctx context.Context, cache, key string) (bool, error)

	// Close releases resources (no-op ok).
	Close(context.Context) error
}
