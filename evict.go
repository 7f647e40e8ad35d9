package offcache

import "context"

// Enforce trims s to maxEntries, deleting the oldest keys first. Access never
// refreshes a key, so this is FIFO rather than LRU. A maxEntries <= 0 means
// unbounded.
//
// Deletions are independent; on partial failure the returned *EvictError lists
// what failed and the next call finishes the job. Calling Enforce on a store
// within bounds deletes nothing.
func Enforce(ctx context.Context, s Store, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	excess := len(keys) - maxEntries
	if excess <= 0 {
		return 0, nil
	}

	var (
		deleted int
		errs    []error
	)
	for _, k := range keys[:excess] {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.Delete(ctx, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted++
		}
	}
	if len(errs) > 0 {
		return deleted, &EvictError{Cache: s.Name(), Deleted: deleted, Errs: errs}
	}
	return deleted, nil
}
