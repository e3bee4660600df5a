// loadall.go: batch load operations and their per-key aggregation
//
// LoadAll and ReloadAll are non-blocking and resolve a Future once every
// requested key completed; GetAll blocks on the same machinery. Keys whose
// slot transitions to Loading here are dispatched together (as one bulk
// call when a bulk loader is configured); keys already loading attach as
// waiters and never trigger duplicate loader work.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	"context"
	"sync"
)

// batchState aggregates per-key completions of one batch operation.
type batchState[K comparable, V any] struct {
	mu        sync.Mutex
	remaining int
	succeeded int
	failed    int
	firstErr  error
	values    map[K]V
	done      func(values map[K]V, succeeded, failed int, firstErr error)
}

func (st *batchState[K, V]) complete(key K, v V, err error) {
	st.mu.Lock()
	if err != nil {
		st.failed++
		if st.firstErr == nil {
			st.firstErr = err
		}
	} else {
		st.succeeded++
		st.values[key] = v
	}
	st.remaining--
	fire := st.remaining == 0
	values, succeeded, failed, firstErr := st.values, st.succeeded, st.failed, st.firstErr
	st.mu.Unlock()
	if fire {
		st.done(values, succeeded, failed, firstErr)
	}
}

// LoadAll asynchronously loads every key that is not already present and
// fresh. Keys currently loading are joined, not reloaded. The returned
// future resolves with the number of keys that completed successfully; if
// any key failed it resolves exceptionally with the aggregated envelope
// whose message carries the "<N> out of <M>" counts.
func (c *LoadingCache[K, V]) LoadAll(ctx context.Context, keys []K) *Future[int] {
	fut := newFuture[int]()
	if c.closed.Load() {
		fut.complete(0, NewErrCacheClosed("LoadAll"))
		return fut
	}
	uniq := dedupeKeys(keys)
	if len(uniq) == 0 {
		fut.complete(0, nil)
		return fut
	}
	total := len(uniq)
	c.runBatch(ctx, uniq, false, func(values map[K]V, succeeded, failed int, firstErr error) {
		if failed > 0 {
			fut.complete(succeeded, NewErrBulkLoadFailed(failed, total, firstErr))
			return
		}
		fut.complete(succeeded, nil)
	})
	return fut
}

// ReloadAll is like LoadAll but forces a load per key regardless of the
// current slot state, and never coalesces with in-flight loads: N
// concurrent ReloadAll calls over the same key cause N loader invocations.
func (c *LoadingCache[K, V]) ReloadAll(ctx context.Context, keys []K) *Future[int] {
	fut := newFuture[int]()
	if c.closed.Load() {
		fut.complete(0, NewErrCacheClosed("ReloadAll"))
		return fut
	}
	uniq := dedupeKeys(keys)
	if len(uniq) == 0 {
		fut.complete(0, nil)
		return fut
	}
	total := len(uniq)
	c.runBatch(ctx, uniq, true, func(values map[K]V, succeeded, failed int, firstErr error) {
		if failed > 0 {
			fut.complete(succeeded, NewErrBulkLoadFailed(failed, total, firstErr))
			return
		}
		fut.complete(succeeded, nil)
	})
	return fut
}

// GetAll returns a mapping for the requested keys, loading misses through
// the same pipeline as Get. When every requested key fails the aggregated
// envelope is returned; otherwise the partial mapping of valued keys
// (fresh or suppressed) is returned and per-key exceptions remain
// observable via PeekEntry.
func (c *LoadingCache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.closed.Load() {
		return nil, NewErrCacheClosed("GetAll")
	}
	uniq := dedupeKeys(keys)
	if len(uniq) == 0 {
		return map[K]V{}, nil
	}
	type outcome struct {
		values   map[K]V
		failed   int
		firstErr error
	}
	ch := make(chan outcome, 1)
	c.runBatch(ctx, uniq, false, func(values map[K]V, succeeded, failed int, firstErr error) {
		ch <- outcome{values: values, failed: failed, firstErr: firstErr}
	})
	select {
	case out := <-ch:
		if out.failed == len(uniq) {
			return nil, NewErrBulkLoadFailed(out.failed, len(uniq), out.firstErr)
		}
		return out.values, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runBatch resolves every key of a batch: immediately for fresh, cached or
// suppressed slots, by waiter attachment for in-flight loads, and by
// starting new loads otherwise. Newly started records are dispatched
// per-key, or grouped into one bulk request when a bulk loader is
// configured.
func (c *LoadingCache[K, V]) runBatch(ctx context.Context, keys []K, forceReload bool, done func(map[K]V, int, int, error)) {
	st := &batchState[K, V]{
		remaining: len(keys),
		values:    make(map[K]V, len(keys)),
		done:      done,
	}

	type immediate struct {
		key K
		v   V
		err error
	}
	var (
		newRecs     []*loadRecord[K, V]
		refreshRecs []*loadRecord[K, V]
		immediates  []immediate
	)

	for _, key := range keys {
		key := key
		sink := func(v V, err error) { st.complete(key, v, err) }
		for {
			e := c.slotFor(key)
			now := c.clock.Now()
			e.mu.Lock()

			if e.state == stateRemoved {
				e.mu.Unlock()
				continue
			}

			if forceReload {
				if e.record != nil {
					// Additional detached load; the in-flight record keeps
					// its waiters, this one only serves the reload future.
					rec := c.newRecord(e, now)
					rec.reload = true
					rec.addSinkLocked(sink)
					e.mu.Unlock()
					newRecs = append(newRecs, rec)
					break
				}
				rec := c.startLoadLocked(e, now)
				rec.reload = true
				if e.hasValue {
					// keep serving the current value while reloading
					e.state = stateRefreshing
				}
				rec.addSinkLocked(sink)
				e.mu.Unlock()
				newRecs = append(newRecs, rec)
				break
			}

			if e.state == statePresent && e.valueFresh(now) {
				v := e.value
				if rr := c.maybeStartRefreshLocked(e, now); rr != nil {
					refreshRecs = append(refreshRecs, rr)
				}
				e.mu.Unlock()
				immediates = append(immediates, immediate{key: key, v: v})
				break
			}

			if e.state == stateRefreshing && e.valueFresh(now) {
				v := e.value
				e.mu.Unlock()
				immediates = append(immediates, immediate{key: key, v: v})
				break
			}

			if e.state == stateLoading || e.state == stateRefreshing {
				rec := e.record
				if rec == nil {
					e.mu.Unlock()
					continue
				}
				rec.addSinkLocked(sink)
				e.mu.Unlock()
				break
			}

			if e.state == stateExceptional && e.exc != nil {
				if e.suppressed && e.hasValue && now < e.exc.suppressUntil {
					v := e.value
					e.mu.Unlock()
					immediates = append(immediates, immediate{key: key, v: v})
					break
				}
				if now < e.exc.retryAt {
					err := e.exc.err
					e.mu.Unlock()
					immediates = append(immediates, immediate{key: key, err: err})
					break
				}
			}

			rec := c.startLoadLocked(e, now)
			rec.addSinkLocked(sink)
			e.mu.Unlock()
			newRecs = append(newRecs, rec)
			break
		}
	}

	origin := originBatch
	if forceReload {
		origin = originReload
	}

	if len(newRecs) > 0 {
		if c.cfg.BulkLoader != nil || c.cfg.AsyncBulkLoader != nil {
			br := c.newBulkRequest(newRecs)
			c.dispatchBulk(ctx, br, origin)
		} else {
			for _, rec := range newRecs {
				c.dispatch(ctx, rec, origin)
			}
		}
	}
	for _, rec := range refreshRecs {
		c.dispatch(context.Background(), rec, originRefresh)
	}
	for _, im := range immediates {
		st.complete(im.key, im.v, im.err)
	}
}
