package offcache

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// networkFirst prefers a live response; the role cache and then the offline
// response cover network failures.
func (e *engine) networkFirst(ctx context.Context, gen *generation, route Route, req *Request) (*Response, error) {
	key := RequestKey(req.URL)
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			e.persist(ctx, gen, route.Role, key, resp, true)
		}
		return resp, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	e.log.Debug("network failed, trying cache", Fields{"url": req.URL, "err": err})

	if cached, ok := e.match(ctx, gen, route.Role, key); ok {
		return cached, nil
	}
	if route.Role == RoleAPI {
		trace.SpanFromContext(ctx).AddEvent("offline response")
		return OfflineResponse(), nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
}

// cacheFirst never touches the network on a hit.
func (e *engine) cacheFirst(ctx context.Context, gen *generation, route Route, req *Request) (*Response, error) {
	key := RequestKey(req.URL)
	if cached, ok := e.match(ctx, gen, route.Role, key); ok {
		return cached, nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if route.Fallback && req.IsNavigation() {
			if fb, ok := e.match(ctx, gen, RoleStatic, RequestKey(e.fallbackURL)); ok {
				trace.SpanFromContext(ctx).AddEvent("offline fallback")
				return fb, nil
			}
			return nil, fmt.Errorf("%w: %w: %w", ErrNetwork, ErrNoFallback, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if resp.OK() {
		// unbounded roles are capped by the manifest; bounded ones are trimmed
		e.persist(ctx, gen, route.Role, key, resp, e.limits.of(route.Role) > 0)
	}
	return resp, nil
}

// staleWhileRevalidate serves a hit at once and refreshes it in the background.
func (e *engine) staleWhileRevalidate(ctx context.Context, gen *generation, route Route, req *Request) (*Response, error) {
	key := RequestKey(req.URL)
	if cached, ok := e.match(ctx, gen, route.Role, key); ok {
		e.revalidate(ctx, gen, route.Role, key, req)
		return cached, nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %w", ErrNoImage, err)
	}
	if resp.OK() {
		e.persist(ctx, gen, route.Role, key, resp, true)
	}
	return resp, nil
}

// revalidate refreshes key off the request path. Concurrent revalidations of
// one entry share a single fetch; a failed fetch keeps the stale entry.
func (e *engine) revalidate(ctx context.Context, gen *generation, role Role, key string, req *Request) {
	r := *req
	flight := gen.Caches[role] + "|" + key
	e.tasks.Go(ctx, "revalidate", func(ctx context.Context) error {
		_, err, _ := e.revalidations.Do(flight, func() (any, error) {
			resp, err := e.fetcher.Fetch(ctx, &r)
			if err != nil {
				return nil, err
			}
			if !resp.OK() {
				return nil, nil
			}
			return nil, e.write(ctx, gen, role, key, resp, true)
		})
		if err != nil {
			e.log.Debug("revalidation failed, keeping cached entry", Fields{"key": key, "err": err})
		}
		return nil
	})
}

// match looks key up in the role's cache. Storage errors count as a miss.
func (e *engine) match(ctx context.Context, gen *generation, role Role, key string) (*Response, bool) {
	store, err := gen.store(ctx, e.storage, role)
	if err != nil {
		e.log.Warn("cache open failed", Fields{"role": string(role), "err": err})
		return nil, false
	}
	resp, ok, err := store.Match(ctx, key)
	if err != nil {
		e.log.Warn("cache match failed", Fields{"cache": store.Name(), "key": key, "err": err})
		return nil, false
	}
	if ok {
		trace.SpanFromContext(ctx).AddEvent("cache hit")
	}
	return resp, ok
}

// persist writes a copy of resp in the background; the caller keeps resp.
func (e *engine) persist(ctx context.Context, gen *generation, role Role, key string, resp *Response, enforce bool) {
	cp := resp.Clone()
	e.tasks.Go(ctx, "persist", func(ctx context.Context) error {
		return e.write(ctx, gen, role, key, cp, enforce)
	})
}

func (e *engine) write(ctx context.Context, gen *generation, role Role, key string, resp *Response, enforce bool) error {
	// fast path only: activation can still delete the cache before Put lands,
	// which Put reports as ErrNoCache
	if e.active.Load() != gen {
		return nil
	}
	store, err := gen.store(ctx, e.storage, role)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, key, resp); err != nil {
		if errors.Is(err, ErrNoCache) {
			e.log.Debug("write skipped, cache deleted", Fields{"cache": store.Name(), "key": key})
			return nil
		}
		return err
	}
	if !enforce {
		return nil
	}
	n, err := Enforce(ctx, store, e.limits.of(role))
	if n > 0 {
		e.hooks.Evicted(store.Name(), n)
		e.log.Debug("evicted oldest entries", Fields{"cache": store.Name(), "deleted": n})
	}
	return err
}
