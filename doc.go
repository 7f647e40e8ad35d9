// Package offcache is a request-interception cache that keeps a web
// application usable while the network is down.
//
// Every GET the application makes goes through Engine.Handle, which classifies
// it and runs one of three strategies against a generation of named caches:
//
//	/api/...                       network-first, offline 503 JSON when nothing is cached
//	manifest URLs, styles, scripts cache-first in the static cache
//	images                         stale-while-revalidate in the image cache
//	everything else                cache-first in the dynamic cache
//
// Failed navigations fall back to the cached offline page (/index.html).
// Writes happen in the background and survive the request that triggered them.
// Each role can be capped, and eviction removes the oldest inserted entries first.
//
// Components:
//   - Storage/Store: named caches over a byte provider.Provider (ristretto,
//     bigcache, redis, sqlite, S3), a keylog.KeyLog for names and insertion
//     order, and a codec.Codec[Snapshot].
//   - Generation: a versioned set of cache names plus the precache manifest.
//     Install precaches all-or-nothing; Activate deletes every cache the new
//     generation does not name and switches requests over at once.
//   - Sync/Push/Click: connectivity and notification signals relayed to
//     attached foreground clients.
//
// Keys:
//
//	GET <absolute-url>           request key within a cache
//	entry:<cache>:<hash>         provider key of a stored response
package offcache
