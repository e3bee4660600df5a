// bulk.go: bulk request fan-in and fan-out
//
// When a bulk loader is configured, the per-key records a batch operation
// transitioned to Loading are grouped into one bulkRequest and dispatched
// as a single loader call. Per-key completions split the result back onto
// each record; keys that were already loading are never part of the
// request, which is what keeps overlapping bulk operations free of
// duplicate loader work. A record belongs to exactly one bulk request.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	"context"
	"sync"
)

// bulkRequest tracks one dispatched bulk loader call.
type bulkRequest[K comparable, V any] struct {
	keys      []K
	startTime int64

	mu        sync.Mutex
	pending   map[K]*loadRecord[K, V]
	completed map[K]bool
}

func (c *LoadingCache[K, V]) newBulkRequest(recs []*loadRecord[K, V]) *bulkRequest[K, V] {
	br := &bulkRequest[K, V]{
		startTime: c.clock.Now(),
		keys:      make([]K, 0, len(recs)),
		pending:   make(map[K]*loadRecord[K, V], len(recs)),
		completed: make(map[K]bool, len(recs)),
	}
	for _, rec := range recs {
		rec.bulk = br
		br.keys = append(br.keys, rec.entry.key)
		br.pending[rec.entry.key] = rec
	}
	return br
}

// take removes and returns the pending record for key.
func (br *bulkRequest[K, V]) take(key K) (*loadRecord[K, V], bool) {
	br.mu.Lock()
	defer br.mu.Unlock()
	rec, ok := br.pending[key]
	if ok {
		delete(br.pending, key)
		br.completed[key] = true
	}
	return rec, ok
}

// takeAll removes and returns every still-pending record.
func (br *bulkRequest[K, V]) takeAll() map[K]*loadRecord[K, V] {
	br.mu.Lock()
	defer br.mu.Unlock()
	out := br.pending
	br.pending = make(map[K]*loadRecord[K, V])
	for key := range out {
		br.completed[key] = true
	}
	return out
}

func (br *bulkRequest[K, V]) wasCompleted(key K) bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.completed[key]
}

func (br *bulkRequest[K, V]) pendingCount() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.pending)
}

// dispatchBulk runs the configured bulk loader for one request.
func (c *LoadingCache[K, V]) dispatchBulk(ctx context.Context, br *bulkRequest[K, V], origin loadOrigin) {
	c.stats.bulkLoads.Add(1)
	c.metrics.RecordBulkLoad(len(br.keys))

	if c.cfg.BulkLoader != nil {
		c.offload(func() { c.runSyncBulk(ctx, br) }, origin)
		return
	}

	lctx := &LoaderContext[K, V]{
		cache:     c,
		startTime: br.startTime,
		keys:      br.keys,
		active:    true,
	}
	cb := &BulkCallback[K, V]{cache: c, br: br, lctx: lctx}
	err := c.safeAsyncBulkLoad(ctx, br.keys, lctx, cb)
	if err != nil {
		// The loader threw before covering all keys: every still-pending
		// key fails with the same error. A second failure delivery after
		// the callback already covered everything is ignored here.
		_ = cb.OnLoadFailure(err)
	}
}

func (c *LoadingCache[K, V]) safeAsyncBulkLoad(ctx context.Context, keys []K, lctx *LoaderContext[K, V], cb *BulkCallback[K, V]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewErrPanicRecovered("bulk load", r)
		}
	}()
	return c.cfg.AsyncBulkLoader.LoadAll(ctx, keys, lctx, cb)
}

func (c *LoadingCache[K, V]) runSyncBulk(ctx context.Context, br *bulkRequest[K, V]) {
	var (
		result map[K]V
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = NewErrPanicRecovered("bulk load", r)
			}
		}()
		result, err = c.cfg.BulkLoader.LoadAll(ctx, br.keys)
	}()

	if err != nil {
		c.failBulkPending(br, err)
		return
	}
	c.applyBulkResult(br, result)
}

// failBulkPending fails every still-pending key of the request with the
// same error.
func (c *LoadingCache[K, V]) failBulkPending(br *bulkRequest[K, V], err error) {
	var zero V
	for _, rec := range br.takeAll() {
		c.completeRecord(rec, zero, err)
	}
}

// applyBulkResult splits a bulk mapping onto the pending records. A key
// absent from the mapping is a failure for that key, never a silent no-op.
func (c *LoadingCache[K, V]) applyBulkResult(br *bulkRequest[K, V], result map[K]V) {
	var zero V
	for key, rec := range br.takeAll() {
		if v, ok := result[key]; ok {
			c.completeRecord(rec, v, nil)
		} else {
			c.completeRecord(rec, zero, NewErrKeyMissing(key))
		}
	}
}

// BulkCallback is the completion sink handed to an AsyncBulkLoader.
// Results may arrive per key, in any order and from any goroutine, or for
// the whole bulk at once. Each key completes exactly once; a second
// completion returns LOADCACHE_DOUBLE_COMPLETION to the offending caller.
// Completions arriving after the cache was closed are absorbed silently.
type BulkCallback[K comparable, V any] struct {
	cache *LoadingCache[K, V]
	br    *bulkRequest[K, V]
	lctx  *LoaderContext[K, V]
}

// OnKeySuccess delivers the value for one key of the bulk.
func (cb *BulkCallback[K, V]) OnKeySuccess(key K, value V) error {
	return cb.completeKey(key, value, nil)
}

// OnKeyFailure delivers a failure for one key of the bulk.
func (cb *BulkCallback[K, V]) OnKeyFailure(key K, err error) error {
	var zero V
	if err == nil {
		err = NewErrInternal("OnKeyFailure", nil)
	}
	return cb.completeKey(key, zero, err)
}

func (cb *BulkCallback[K, V]) completeKey(key K, v V, err error) error {
	if cb.cache.isClosed() {
		return nil
	}
	rec, ok := cb.br.take(key)
	if !ok {
		if cb.br.wasCompleted(key) {
			return NewErrDoubleCompletion("bulk callback")
		}
		return NewErrUnknownKey(key)
	}
	cb.cache.completeRecord(rec, v, err)
	if cb.br.pendingCount() == 0 {
		cb.lctx.deactivate()
	}
	return nil
}

// OnLoadSuccess delivers a whole-bulk result. Keys of the request that the
// mapping does not cover fail with the partial-result error.
func (cb *BulkCallback[K, V]) OnLoadSuccess(result map[K]V) error {
	if cb.cache.isClosed() {
		return nil
	}
	recs := cb.br.takeAll()
	if len(recs) == 0 {
		return NewErrDoubleCompletion("bulk callback")
	}
	var zero V
	for key, rec := range recs {
		if v, ok := result[key]; ok {
			cb.cache.completeRecord(rec, v, nil)
		} else {
			cb.cache.completeRecord(rec, zero, NewErrKeyMissing(key))
		}
	}
	cb.lctx.deactivate()
	return nil
}

// OnLoadFailure fails every still-pending key of the bulk with the same
// error.
func (cb *BulkCallback[K, V]) OnLoadFailure(err error) error {
	if cb.cache.isClosed() {
		return nil
	}
	if err == nil {
		err = NewErrInternal("OnLoadFailure", nil)
	}
	recs := cb.br.takeAll()
	if len(recs) == 0 {
		return NewErrDoubleCompletion("bulk callback")
	}
	var zero V
	for _, rec := range recs {
		cb.cache.completeRecord(rec, zero, err)
	}
	cb.lctx.deactivate()
	return nil
}
