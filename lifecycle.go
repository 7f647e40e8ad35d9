package offcache

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a generation.
//
//	installing -> waiting -> active -> superseded
//	installing -> redundant (install aborted)
//	waiting    -> redundant (replaced by a newer install)
type State int32

const (
	StateNone State = iota
	StateInstalling
	StateWaiting
	StateActive
	StateSuperseded
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateRedundant:
		return "redundant"
	default:
		return "none"
	}
}

type generation struct {
	Generation
	manifest Manifest
	state    atomic.Int32

	mu     sync.Mutex
	stores map[Role]Store
}

func (g *generation) setState(s State) { g.state.Store(int32(s)) }
func (g *generation) getState() State { return State(g.state.Load()) }

// store returns the role's cache, opening it once per generation.
func (g *generation) store(ctx context.Context, s Storage, r Role) (Store, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.stores[r]; ok {
		return st, nil
	}
	st, err := s.Open(ctx, g.Caches[r])
	if err != nil {
		return nil, err
	}
	if g.stores == nil {
		g.stores = make(map[Role]Store, len(Roles))
	}
	g.stores[r] = st
	return st, nil
}

func (e *engine) prepare(g Generation) (*generation, error) {
	if g.Version == "" {
		return nil, fmt.Errorf("offcache: generation version is required")
	}
	caches := maps.Clone(g.Caches)
	if caches == nil {
		caches = maps.Clone(DefaultCaches)
	}
	if err := caches.validate(); err != nil {
		return nil, err
	}
	entries := g.Manifest
	if entries == nil {
		entries = DefaultManifest
	}
	m, err := NewManifest(e.origin, entries)
	if err != nil {
		return nil, err
	}
	g.Caches = caches
	g.Manifest = m.URLs()
	return &generation{Generation: g, manifest: m}, nil
}

func (e *engine) Install(ctx context.Context, g Generation) error {
	if e.closed.Load() {
		return ErrClosed
	}
	gen, err := e.prepare(g)
	if err != nil {
		return err
	}

	e.installMu.Lock()
	defer e.installMu.Unlock()

	gen.setState(StateInstalling)
	e.latest.Store(gen)
	e.log.Info("installing generation", Fields{"version": gen.Version, "manifest": gen.manifest.Len()})

	start := time.Now()
	err = e.precache(ctx, gen)
	e.latency.Record("install", time.Since(start))
	if err != nil {
		gen.setState(StateRedundant)
		e.hooks.InstallAborted(gen.Version, err)
		e.log.Error("install aborted", Fields{"version": gen.Version, "err": err})
		return err
	}

	gen.setState(StateWaiting)
	e.mu.Lock()
	if prev := e.waiting; prev != nil {
		prev.setState(StateRedundant)
	}
	e.waiting = gen
	e.mu.Unlock()
	e.log.Info("generation installed", Fields{"version": gen.Version})

	// nothing holds the previous generation when no client is attached
	if gen.SkipWaiting || e.active.Load() == nil || e.bus.len() == 0 {
		return e.Activate(ctx)
	}
	return nil
}

// precache fetches the whole manifest before touching storage, so a failed
// fetch never creates the static cache.
func (e *engine) precache(ctx context.Context, gen *generation) error {
	urls := gen.manifest.URLs()
	resps := make([]*Response, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.installFanout)
	for i, u := range urls {
		g.Go(func() error {
			resp, err := e.fetcher.Fetch(gctx, &Request{Method: http.MethodGet, URL: u})
			if err != nil {
				return &ManifestError{URL: u, Err: err}
			}
			if !resp.OK() {
				return &ManifestError{URL: u, Status: resp.Status}
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallAborted, gen.Version, err)
	}

	name := gen.Caches[RoleStatic]
	names, err := e.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallAborted, gen.Version, err)
	}
	existed := false
	for _, n := range names {
		if n == name {
			existed = true
			break
		}
	}

	store, err := gen.store(ctx, e.storage, RoleStatic)
	if err == nil {
		for i, u := range urls {
			if err = store.Put(ctx, RequestKey(u), resps[i]); err != nil {
				break
			}
		}
	}
	if err != nil {
		if !existed {
			if _, derr := e.storage.Delete(context.WithoutCancel(ctx), name); derr != nil {
				e.log.Warn("partial static cache left behind", Fields{"cache": name, "err": derr})
			}
		}
		return fmt.Errorf("%w: %s: %w", ErrInstallAborted, gen.Version, err)
	}
	return nil
}

func (e *engine) Activate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	gen := e.waiting
	if gen == nil {
		return ErrNothingWaiting
	}

	for _, r := range Roles {
		if _, err := gen.store(ctx, e.storage, r); err != nil {
			return fmt.Errorf("offcache: activate %s: %w", gen.Version, err)
		}
	}
	names, err := e.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("offcache: activate %s: %w", gen.Version, err)
	}
	var (
		deleted []string
		errs    []error
	)
	for _, n := range names {
		if gen.Caches.Has(n) {
			continue
		}
		ok, err := e.storage.Delete(ctx, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted = append(deleted, n)
			e.log.Info("deleted old cache", Fields{"cache": n})
		}
	}
	if len(errs) > 0 {
		// stays waiting; the next Activate retries the remaining deletes
		return fmt.Errorf("offcache: activate %s: %w", gen.Version, errors.Join(errs...))
	}

	e.claim(gen)
	e.hooks.GenerationActivated(gen.Version, deleted)
	e.log.Info("generation activated", Fields{"version": gen.Version, "deleted": len(deleted)})
	return nil
}

// claim makes gen serve the very next request. Callers hold e.mu.
func (e *engine) claim(gen *generation) {
	e.waiting = nil
	gen.setState(StateActive)
	if old := e.active.Swap(gen); old != nil && old != gen {
		old.setState(StateSuperseded)
	}
}

// released activates a waiting generation once the last client detached.
func (e *engine) released() {
	e.mu.Lock()
	waiting := e.waiting != nil
	e.mu.Unlock()
	if !waiting {
		return
	}
	e.tasks.Go(context.Background(), "activate", func(ctx context.Context) error {
		if err := e.Activate(ctx); err != nil && !errors.Is(err, ErrNothingWaiting) {
			return err
		}
		return nil
	})
}

func (e *engine) State() State {
	if g := e.latest.Load(); g != nil {
		return g.getState()
	}
	return StateNone
}

func (e *engine) Active() (Generation, bool) {
	g := e.active.Load()
	if g == nil {
		return Generation{}, false
	}
	out := g.Generation
	out.Caches = maps.Clone(g.Caches)
	out.Manifest = append([]string(nil), g.Manifest...)
	return out, true
}
