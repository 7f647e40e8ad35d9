// Package provider defines the byte storage used behind offcache's named caches.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). If a store performs internal transforms
// (e.g., compression), they MUST be fully reversed so that the bytes returned by
// Get are identical to the bytes provided to Set.
//
// Important: the keyspace "entry:<cache>:" is owned by offcache. External code MUST
// NOT write values under this prefix. Foreign writes fail wire-format validation
// and are deleted on read.
//
// A provider may drop entries on its own (admission, memory pressure, TTL). The
// cache layer tolerates this: a key whose value vanished is removed from the
// insertion log the next time it is read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use and must be byte-for-byte
// transparent: Get must return exactly the []byte previously passed to Set for
// the same key. Implementations must not prepend/append metadata, transcode, or
// otherwise mutate values.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 means no expiry). May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Stats are hit and admission counters reported by in-process providers.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Rejected uint64 // writes refused by admission or size limits
	Entries  int
}

// StatsReporter is implemented by providers that keep their own counters.
type StatsReporter interface {
	Stats() Stats
}
