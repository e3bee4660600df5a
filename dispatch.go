// dispatch.go: loader shape selection and executor policy
//
// The dispatcher adapts every configured loader shape to the internal
// per-key completion protocol. Sync loaders are offloaded to the loader
// executor; when it rejects and the call originated from Get, the loader
// runs on the caller goroutine, otherwise on a dedicated goroutine so the
// operation's future absorbs the load. Async loaders are invoked directly:
// if such a loader completes its callback synchronously from inside Load,
// no executor is involved at all. Loader panics never escape; they become
// LOADCACHE_PANIC_RECOVERED failure completions.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import "context"

type loadOrigin uint8

const (
	originGet loadOrigin = iota
	originBatch
	originReload
	originRefresh
)

// dispatch runs the configured loader for one record.
func (c *LoadingCache[K, V]) dispatch(ctx context.Context, rec *loadRecord[K, V], origin loadOrigin) {
	switch {
	case c.cfg.AsyncLoader != nil:
		c.dispatchAsyncSingle(ctx, rec)

	case c.cfg.Loader != nil || c.cfg.AdvancedLoader != nil:
		c.offload(func() { c.runSyncSingle(ctx, rec) }, origin)

	case c.cfg.BulkLoader != nil || c.cfg.AsyncBulkLoader != nil:
		// Single-key request against a bulk loader: a bulk call of one.
		br := c.newBulkRequest([]*loadRecord[K, V]{rec})
		c.dispatchBulk(ctx, br, origin)

	default:
		var zero V
		c.completeRecord(rec, zero, NewErrNoLoader("load"))
	}
}

func (c *LoadingCache[K, V]) dispatchAsyncSingle(ctx context.Context, rec *loadRecord[K, V]) {
	lctx := c.newLoaderContext(rec)
	cb := &AsyncCallback[V]{
		closed: c.isClosed,
		deliver: func(v V, err error) {
			c.completeRecord(rec, v, err)
			lctx.deactivate()
		},
	}
	err := c.safeAsyncLoad(ctx, rec.entry.key, lctx, cb)
	if err != nil && cb.tryUse() {
		// The loader threw before using its callback: that is the failure.
		var zero V
		c.completeRecord(rec, zero, err)
		lctx.deactivate()
	}
}

func (c *LoadingCache[K, V]) safeAsyncLoad(ctx context.Context, key K, lctx *LoaderContext[K, V], cb *AsyncCallback[V]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewErrPanicRecovered("load", r)
		}
	}()
	return c.cfg.AsyncLoader.Load(ctx, key, lctx, cb)
}

// offload applies the executor policy to a sync loader task.
func (c *LoadingCache[K, V]) offload(task func(), origin loadOrigin) {
	exec := c.loaderExecutor
	if origin == originRefresh && c.refreshExecutor != nil {
		exec = c.refreshExecutor
	}
	if exec == nil {
		if origin == originGet {
			task()
		} else {
			go task()
		}
		return
	}
	if err := exec(task); err != nil {
		// Saturated: the Get caller runs the loader itself, batch futures
		// absorb the load so their callers never see the loader goroutine.
		if origin == originGet {
			task()
		} else {
			go task()
		}
	}
}

func (c *LoadingCache[K, V]) runSyncSingle(ctx context.Context, rec *loadRecord[K, V]) {
	lctx := c.newLoaderContext(rec)
	var (
		v   V
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = NewErrPanicRecovered("load", r)
			}
		}()
		if c.cfg.AdvancedLoader != nil {
			v, err = c.cfg.AdvancedLoader.Load(ctx, rec.entry.key, lctx)
		} else {
			v, err = c.cfg.Loader.Load(ctx, rec.entry.key)
		}
	}()
	lctx.deactivate()
	c.completeRecord(rec, v, err)
}

// newLoaderContext builds the per-load view for a single-key record. The
// entry snapshot is captured at load start; it is nil for absent slots and
// for values that expired without keep-data.
func (c *LoadingCache[K, V]) newLoaderContext(rec *loadRecord[K, V]) *LoaderContext[K, V] {
	e := rec.entry
	e.mu.Lock()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	return &LoaderContext[K, V]{
		cache:     c,
		startTime: rec.startTime,
		keys:      []K{e.key},
		snapshot:  snap,
		active:    true,
	}
}
