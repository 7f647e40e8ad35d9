package offcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBypass means the engine declined the request (non-GET, no active
	// generation, unparsable URL). The caller must send it to the network unmodified.
	ErrBypass = errors.New("offcache: request bypasses the cache")

	// ErrNetwork wraps a fetch failure that no cache entry or fallback could cover.
	ErrNetwork = errors.New("offcache: network unavailable")

	// ErrNoFallback marks a failed navigation whose offline page is not cached.
	ErrNoFallback = errors.New("offcache: offline fallback not cached")

	// ErrNoImage is returned by stale-while-revalidate when there is neither a
	// cached copy nor a network response.
	ErrNoImage = errors.New("offcache: no image")

	// ErrInstallAborted wraps the first manifest failure of an install.
	ErrInstallAborted = errors.New("offcache: install aborted")

	// ErrNothingWaiting is returned by Activate when no installed generation waits.
	ErrNothingWaiting = errors.New("offcache: no generation waiting to activate")

	// ErrNoJournal is returned by Drain when no write journal was configured.
	ErrNoJournal = errors.New("offcache: no write journal configured")

	// ErrNoCache is returned by Store.Put when its cache was deleted after the
	// store was opened.
	ErrNoCache = errors.New("offcache: cache deleted")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("offcache: engine closed")
)

// ManifestError describes the manifest entry that aborted an install.
// Status is set when the server answered with a non-2xx status; Err when the
// fetch itself failed.
type ManifestError struct {
	URL    string
	Status int
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manifest %q: fetch failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("manifest %q: unexpected status %d", e.URL, e.Status)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// EvictError reports the deletions that failed during one eviction pass. The
// remaining entries are trimmed by the next pass.
type EvictError struct {
	Cache   string
	Deleted int
	Errs    []error
}

func (e *EvictError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("evict %q: %d deleted, %d failed: %s",
		e.Cache, e.Deleted, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *EvictError) Unwrap() []error { return e.Errs }
