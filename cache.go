// cache.go: the loading cache and its point operations
//
// The cache coordinates miss resolution: a read that cannot be answered
// from the slot delegates to the dispatcher, which runs the configured
// loader and routes the completion back to every waiter. At most one load
// is in flight per key for coalescing reads; only ReloadAll forces more.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0

package loadcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LoadingCache is an in-process key/value cache with an integrated loading
// pipeline. All methods are safe for concurrent use.
type LoadingCache[K comparable, V any] struct {
	cfg     Config[K, V]
	logger  Logger
	metrics MetricsCollector
	clock   TimeProvider

	loaderExecutor  Executor
	refreshExecutor Executor

	resilience       atomic.Pointer[resiliencePolicy]
	refreshThreshold atomic.Int64 // nanos, hot-reloadable

	mu      sync.RWMutex
	entries map[K]*entry[K, V]

	recMu   sync.Mutex
	records map[*loadRecord[K, V]]struct{}

	closed atomic.Bool

	stats cacheCounters
}

type cacheCounters struct {
	hits         atomic.Uint64
	misses       atomic.Uint64
	loads        atomic.Uint64
	loadFailures atomic.Uint64
	refreshes    atomic.Uint64
	bulkLoads    atomic.Uint64
	puts         atomic.Uint64
}

// New creates a loading cache from cfg. The configuration is validated and
// normalized; construction fails with a configuration error (see
// IsConfigError) on bad knobs.
func New[K comparable, V any](cfg Config[K, V]) (*LoadingCache[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pol, err := resolveResilience(cfg.Resilience, cfg.ExpireAfterWrite)
	if err != nil {
		return nil, err
	}

	c := &LoadingCache[K, V]{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.MetricsCollector,
		clock:   cfg.TimeProvider,
		entries: make(map[K]*entry[K, V]),
		records: make(map[*loadRecord[K, V]]struct{}),
	}
	c.loaderExecutor = cfg.LoaderExecutor
	if c.loaderExecutor == nil {
		c.loaderExecutor = NewPooledExecutor(cfg.LoaderConcurrency)
	}
	c.refreshExecutor = cfg.RefreshExecutor
	if c.refreshExecutor == nil {
		c.refreshExecutor = c.loaderExecutor
	}
	c.resilience.Store(pol)
	c.refreshThreshold.Store(int64(cfg.RefreshThreshold))
	return c, nil
}

func (c *LoadingCache[K, V]) isClosed() bool {
	return c.closed.Load()
}

// slotFor returns the slot for key, creating it when absent.
func (c *LoadingCache[K, V]) slotFor(key K) *entry[K, V] {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	if e != nil {
		return e
	}
	c.mu.Lock()
	if e = c.entries[key]; e == nil {
		e = &entry[K, V]{key: key}
		c.entries[key] = e
	}
	c.mu.Unlock()
	return e
}

// lookup returns the slot for key without creating one.
func (c *LoadingCache[K, V]) lookup(key K) *entry[K, V] {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	return e
}

// startLoadLocked transitions the slot to Loading and attaches a fresh
// primary record. Caller holds e.mu.
func (c *LoadingCache[K, V]) startLoadLocked(e *entry[K, V], now int64) *loadRecord[K, V] {
	if e.hasValue && e.expireAt != 0 && now >= e.expireAt && !c.cfg.KeepDataAfterExpired {
		var zero V
		e.value = zero
		e.hasValue = false
	}
	rec := c.newRecord(e, now)
	e.state = stateLoading
	e.record = rec
	e.loadStarted = now
	e.putOverride = false
	return rec
}

// Get returns the value for key, loading it on a miss. The caller blocks
// until the entry is Present or Exceptional-not-suppressed; a cached or
// fresh load failure surfaces as the load-exception envelope whose cause is
// the loader's original error.
func (c *LoadingCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, NewErrCacheClosed("Get")
	}
	start := c.clock.Now()
	for {
		e := c.slotFor(key)
		now := c.clock.Now()
		e.mu.Lock()

		if e.state == stateRemoved {
			e.mu.Unlock()
			continue // the slot was replaced in the map, look it up again
		}

		if e.state == statePresent && e.valueFresh(now) {
			v := e.value
			refreshRec := c.maybeStartRefreshLocked(e, now)
			e.mu.Unlock()
			if refreshRec != nil {
				c.dispatch(context.Background(), refreshRec, originRefresh)
			}
			c.recordGet(start, true)
			return v, nil
		}

		if e.state == stateRefreshing && e.valueFresh(now) {
			v := e.value
			e.mu.Unlock()
			c.recordGet(start, true)
			return v, nil
		}

		if e.state == stateLoading || e.state == stateRefreshing {
			rec := e.record
			e.mu.Unlock()
			if rec == nil {
				continue
			}
			return c.awaitRecord(ctx, rec, start)
		}

		if e.state == stateExceptional && e.exc != nil {
			if e.suppressed && e.hasValue && now < e.exc.suppressUntil {
				v := e.value
				e.mu.Unlock()
				c.recordGet(start, true)
				return v, nil
			}
			if now < e.exc.retryAt {
				err := e.exc.err
				e.mu.Unlock()
				c.recordGet(start, false)
				return zero, err
			}
		}

		// Empty, expired, or Exceptional past retry-at: start a load.
		rec := c.startLoadLocked(e, now)
		e.mu.Unlock()
		c.dispatch(ctx, rec, originGet)
		return c.awaitRecord(ctx, rec, start)
	}
}

func (c *LoadingCache[K, V]) awaitRecord(ctx context.Context, rec *loadRecord[K, V], start int64) (V, error) {
	select {
	case <-rec.done:
		c.recordGet(start, false)
		return rec.value, rec.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *LoadingCache[K, V]) recordGet(start int64, hit bool) {
	if hit {
		c.stats.hits.Add(1)
	} else {
		c.stats.misses.Add(1)
	}
	c.metrics.RecordGet(c.clock.Now()-start, hit)
}

// Put inserts or overrides the value for key. A Put during an in-flight
// load marks the load overridden: the completing load is discarded and
// every waiter receives the put value instead.
func (c *LoadingCache[K, V]) Put(key K, value V) error {
	if c.closed.Load() {
		return NewErrCacheClosed("Put")
	}
	start := c.clock.Now()
	for {
		e := c.slotFor(key)
		e.mu.Lock()
		if e.state == stateRemoved {
			e.mu.Unlock()
			continue
		}
		now := c.clock.Now()
		e.value = value
		e.hasValue = true
		e.exc = nil
		e.suppressed = false
		e.retryCount = 0
		if ttl := c.cfg.ExpireAfterWrite; ttl > 0 {
			e.expireAt = now + int64(ttl)
		} else {
			e.expireAt = 0
		}
		if e.state == stateLoading || e.state == stateRefreshing {
			e.putOverride = true
		} else {
			e.state = statePresent
		}
		e.mu.Unlock()
		c.stats.puts.Add(1)
		c.metrics.RecordPut(c.clock.Now() - start)
		return nil
	}
}

// Peek returns the current value without ever triggering a load. Stale
// values served under suppression are visible; expired or exceptional
// entries without a value are not.
func (c *LoadingCache[K, V]) Peek(key K) (V, bool) {
	var zero V
	e := c.lookup(key)
	if e == nil {
		return zero, false
	}
	now := c.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateRemoved || !e.hasValue {
		return zero, false
	}
	if e.suppressed && e.exc != nil && now < e.exc.suppressUntil {
		return e.value, true
	}
	if e.valueFresh(now) && e.state != stateExceptional {
		return e.value, true
	}
	return zero, false
}

// PeekEntry returns a snapshot of the entry, including a cached exception
// view, without triggering a load. It returns nil when the slot holds
// neither a value nor an exception.
func (c *LoadingCache[K, V]) PeekEntry(key K) *EntrySnapshot[K, V] {
	e := c.lookup(key)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateRemoved {
		return nil
	}
	return e.snapshotLocked()
}

// ContainsKey reports whether key currently maps to a value.
func (c *LoadingCache[K, V]) ContainsKey(key K) bool {
	_, ok := c.Peek(key)
	return ok
}

// Remove deletes the mapping for key. An in-flight load keeps running; its
// completion is delivered to waiters but no longer mutates the slot.
func (c *LoadingCache[K, V]) Remove(key K) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	e := c.entries[key]
	if e != nil {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	had := e.hasValue
	e.state = stateRemoved
	e.hasValue = false
	var zero V
	e.value = zero
	e.exc = nil
	e.suppressed = false
	e.mu.Unlock()
	return had
}

// Stats returns a snapshot of the cache counters.
func (c *LoadingCache[K, V]) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Hits:         c.stats.hits.Load(),
		Misses:       c.stats.misses.Load(),
		Loads:        c.stats.loads.Load(),
		LoadFailures: c.stats.loadFailures.Load(),
		Refreshes:    c.stats.refreshes.Load(),
		BulkLoads:    c.stats.bulkLoads.Load(),
		Puts:         c.stats.puts.Load(),
		Size:         size,
	}
}

// UpdateResilience swaps the resilience policy at runtime. Used by
// HotConfig; safe to call directly.
func (c *LoadingCache[K, V]) UpdateResilience(rc ResilienceConfig) error {
	if rc.SuppressExceptions {
		if rc.ResilienceDuration == 0 {
			rc.ResilienceDuration = DurationUnset
		}
		if rc.RetryInterval == 0 {
			rc.RetryInterval = DurationUnset
		}
		if rc.MaxRetryInterval == 0 {
			rc.MaxRetryInterval = DurationUnset
		}
	}
	pol, err := resolveResilience(rc, c.cfg.ExpireAfterWrite)
	if err != nil {
		return err
	}
	c.resilience.Store(pol)
	return nil
}

// SetRefreshThreshold swaps the refresh-ahead threshold at runtime.
func (c *LoadingCache[K, V]) SetRefreshThreshold(d time.Duration) {
	c.refreshThreshold.Store(int64(d))
}

// Close transitions the cache to Closed. Every pending load record is
// completed with a LOADCACHE_CACHE_CLOSED error so no waiter hangs; loader
// callbacks arriving afterwards are absorbed silently. Close is idempotent.
func (c *LoadingCache[K, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.recMu.Lock()
	pending := make([]*loadRecord[K, V], 0, len(c.records))
	for rec := range c.records {
		pending = append(pending, rec)
	}
	c.recMu.Unlock()
	var zero V
	for _, rec := range pending {
		c.completeRecord(rec, zero, nil)
	}
	c.mu.Lock()
	c.entries = make(map[K]*entry[K, V])
	c.mu.Unlock()
	c.logger.Info("cache closed")
	return nil
}

// dedupeKeys removes duplicates from a user-supplied key slice, preserving
// first-occurrence order.
func dedupeKeys[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
