// invoke.go: entry processors
//
// InvokeAll runs a user function against each requested entry. A processor
// that reads a missing value goes through the same loading pipeline as
// Get, including coalescing and resilience; per-key results and errors are
// aggregated into a result map.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// EntryProcessor is the user function InvokeAll runs per entry.
type EntryProcessor[K comparable, V any] func(e *MutableEntry[K, V]) (interface{}, error)

// InvokeResult carries the per-key outcome of InvokeAll.
type InvokeResult struct {
	Value interface{}
	Err   error
}

// InvokeAll runs processor for every deduplicated key and aggregates the
// per-key results. Processors run concurrently, bounded by the loader
// concurrency; a panicking processor yields a LOADCACHE_PANIC_RECOVERED
// result for its key.
func (c *LoadingCache[K, V]) InvokeAll(ctx context.Context, keys []K, processor EntryProcessor[K, V]) map[K]InvokeResult {
	uniq := dedupeKeys(keys)
	out := make(map[K]InvokeResult, len(uniq))
	if c.closed.Load() {
		for _, key := range uniq {
			out[key] = InvokeResult{Err: NewErrCacheClosed("InvokeAll")}
		}
		return out
	}

	results := make([]InvokeResult, len(uniq))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.LoaderConcurrency)
	for i, key := range uniq {
		i, key := i, key
		g.Go(func() error {
			me := &MutableEntry[K, V]{cache: c, ctx: gctx, key: key}
			var (
				value interface{}
				err   error
			)
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = NewErrPanicRecovered("invoke", r)
					}
				}()
				value, err = processor(me)
			}()
			results[i] = InvokeResult{Value: value, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, key := range uniq {
		out[key] = results[i]
	}
	return out
}

// MutableEntry is the per-entry view handed to an EntryProcessor.
type MutableEntry[K comparable, V any] struct {
	cache *LoadingCache[K, V]
	ctx   context.Context
	key   K
}

// Key returns the entry key.
func (m *MutableEntry[K, V]) Key() K { return m.key }

// Exists reports whether the entry currently maps to a value, without
// loading.
func (m *MutableEntry[K, V]) Exists() bool {
	return m.cache.ContainsKey(m.key)
}

// Peek returns the current value without loading.
func (m *MutableEntry[K, V]) Peek() (V, bool) {
	return m.cache.Peek(m.key)
}

// Value returns the entry value, loading it through the pipeline when
// missing.
func (m *MutableEntry[K, V]) Value() (V, error) {
	return m.cache.Get(m.ctx, m.key)
}

// SetValue writes a value, overriding any in-flight load.
func (m *MutableEntry[K, V]) SetValue(value V) error {
	return m.cache.Put(m.key, value)
}

// Remove deletes the entry.
func (m *MutableEntry[K, V]) Remove() bool {
	return m.cache.Remove(m.key)
}

// Refresh schedules a background reload of a present entry, regardless of
// the refresh threshold. The current value keeps being served meanwhile.
func (m *MutableEntry[K, V]) Refresh() {
	if m.cache.isClosed() {
		return
	}
	e := m.cache.lookup(m.key)
	if e == nil {
		return
	}
	now := m.cache.clock.Now()
	e.mu.Lock()
	var rec *loadRecord[K, V]
	if e.state == statePresent {
		rec = m.cache.startRefreshLocked(e, now)
	}
	e.mu.Unlock()
	if rec != nil {
		m.cache.dispatch(context.Background(), rec, originRefresh)
	}
}
