// loader.go: loader shapes and the per-load view given to loaders
//
// A cache is populated by exactly one of five loader shapes: sync single,
// sync advanced, async single, sync bulk, async bulk. The dispatcher adapts
// every shape to a single internal "async per-key completion" protocol, so
// the rest of the pipeline never cares which shape is configured.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	"context"
	"sync"
	"time"
)

// Loader computes or retrieves the value corresponding to key.
//
// The same Loader instance may be invoked concurrently for different keys;
// it must be safe for concurrent use. Loading must not attempt to update
// mappings of the cache it serves.
type Loader[K comparable, V any] interface {
	Load(ctx context.Context, key K) (V, error)
}

// LoaderFunc is an adapter to allow the use of ordinary functions as
// loaders. If f is a function with the appropriate signature, LoaderFunc(f)
// is a Loader that calls f.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Load calls f(ctx, key).
func (f LoaderFunc[K, V]) Load(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// AdvancedLoader is the sync loader shape that additionally receives the
// per-load view: load start time and the current entry snapshot, if any.
type AdvancedLoader[K comparable, V any] interface {
	Load(ctx context.Context, key K, details *LoaderContext[K, V]) (V, error)
}

// AdvancedLoaderFunc adapts a function to AdvancedLoader.
type AdvancedLoaderFunc[K comparable, V any] func(ctx context.Context, key K, details *LoaderContext[K, V]) (V, error)

func (f AdvancedLoaderFunc[K, V]) Load(ctx context.Context, key K, details *LoaderContext[K, V]) (V, error) {
	return f(ctx, key, details)
}

// AsyncLoader is the async single-key shape. The implementation delivers
// its result through cb, from any goroutine, exactly once. Returning a
// non-nil error before the callback was used counts as a failure delivery.
// The callback may be invoked synchronously from inside Load; in that case
// no executor is involved at all.
type AsyncLoader[K comparable, V any] interface {
	Load(ctx context.Context, key K, details *LoaderContext[K, V], cb *AsyncCallback[V]) error
}

// AsyncLoaderFunc adapts a function to AsyncLoader.
type AsyncLoaderFunc[K comparable, V any] func(ctx context.Context, key K, details *LoaderContext[K, V], cb *AsyncCallback[V]) error

func (f AsyncLoaderFunc[K, V]) Load(ctx context.Context, key K, details *LoaderContext[K, V], cb *AsyncCallback[V]) error {
	return f(ctx, key, details, cb)
}

// BulkLoader computes or retrieves the values corresponding to keys.
//
// A key requested but absent from the returned mapping is a failure for
// that key, never a silent no-op. Extra keys in the mapping are ignored.
type BulkLoader[K comparable, V any] interface {
	LoadAll(ctx context.Context, keys []K) (map[K]V, error)
}

// BulkLoaderFunc adapts a function to BulkLoader.
type BulkLoaderFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

func (f BulkLoaderFunc[K, V]) LoadAll(ctx context.Context, keys []K) (map[K]V, error) {
	return f(ctx, keys)
}

// AsyncBulkLoader is the async bulk shape. Results are delivered through cb
// either per key (OnKeySuccess/OnKeyFailure) or for the whole bulk
// (OnLoadSuccess/OnLoadFailure), in any order and from any goroutine.
type AsyncBulkLoader[K comparable, V any] interface {
	LoadAll(ctx context.Context, keys []K, details *LoaderContext[K, V], cb *BulkCallback[K, V]) error
}

// AsyncBulkLoaderFunc adapts a function to AsyncBulkLoader.
type AsyncBulkLoaderFunc[K comparable, V any] func(ctx context.Context, keys []K, details *LoaderContext[K, V], cb *BulkCallback[K, V]) error

func (f AsyncBulkLoaderFunc[K, V]) LoadAll(ctx context.Context, keys []K, details *LoaderContext[K, V], cb *BulkCallback[K, V]) error {
	return f(ctx, keys, details, cb)
}

// LoaderContext is the per-load view handed to advanced and async loaders.
// It is valid for the duration of the load span: from the loader invocation
// until its completion has been delivered. CurrentEntry fails
// deterministically outside that span.
type LoaderContext[K comparable, V any] struct {
	cache     *LoadingCache[K, V]
	startTime int64
	keys      []K
	snapshot  *EntrySnapshot[K, V]

	mu     sync.Mutex
	active bool
}

// StartTime returns the time the load was started.
func (lc *LoaderContext[K, V]) StartTime() time.Time {
	return time.Unix(0, lc.startTime)
}

// Key returns the single key this load is for. For bulk loads it returns
// the first key of the request.
func (lc *LoaderContext[K, V]) Key() K {
	return lc.keys[0]
}

// Keys returns the keys of this load. Single-key loads carry one key.
func (lc *LoaderContext[K, V]) Keys() []K {
	return lc.keys
}

// CurrentEntry returns a snapshot of the entry as it was when the load
// started: the previous value or exception for a reload or refresh, nil for
// an absent entry or one that expired without keep-data. Calling it after
// the load span has ended returns a LOADCACHE_ENTRY_ACCESS error.
func (lc *LoaderContext[K, V]) CurrentEntry() (*EntrySnapshot[K, V], error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.active {
		return nil, NewErrEntryAccess()
	}
	return lc.snapshot, nil
}

// Executor returns an executor running tasks on behalf of the caller.
func (lc *LoaderContext[K, V]) Executor() Executor {
	return lc.cache.loaderExecutor
}

// LoaderExecutor returns the executor bulk and async loaders may use to
// offload their own work.
func (lc *LoaderContext[K, V]) LoaderExecutor() Executor {
	return lc.cache.loaderExecutor
}

// Cache returns the cache this load populates, for re-entrant operations.
func (lc *LoaderContext[K, V]) Cache() *LoadingCache[K, V] {
	return lc.cache
}

// deactivate ends the load span; CurrentEntry fails afterwards.
func (lc *LoaderContext[K, V]) deactivate() {
	lc.mu.Lock()
	lc.active = false
	lc.mu.Unlock()
}

// AsyncCallback is the completion sink handed to an AsyncLoader. Each
// callback instance completes exactly one load record; a second completion
// returns the LOADCACHE_DOUBLE_COMPLETION signal to the offending caller
// and leaves cache state untouched. Completions arriving after the cache
// was closed are absorbed silently.
type AsyncCallback[V any] struct {
	mu      sync.Mutex
	used    bool
	closed  func() bool
	deliver func(value V, err error)
}

// OnLoadSuccess delivers the loaded value. Callable exactly once.
func (cb *AsyncCallback[V]) OnLoadSuccess(value V) error {
	return cb.complete(value, nil)
}

// OnLoadFailure delivers a load failure. Callable exactly once.
func (cb *AsyncCallback[V]) OnLoadFailure(err error) error {
	var zero V
	if err == nil {
		err = NewErrInternal("OnLoadFailure", nil)
	}
	return cb.complete(zero, err)
}

func (cb *AsyncCallback[V]) complete(value V, err error) error {
	if cb.closed() {
		return nil
	}
	cb.mu.Lock()
	if cb.used {
		cb.mu.Unlock()
		return NewErrDoubleCompletion("async callback")
	}
	cb.used = true
	cb.mu.Unlock()
	cb.deliver(value, err)
	return nil
}

// tryUse marks the callback consumed without delivering, returning false if
// it was already used. The dispatcher uses it to turn a synchronous error
// return of AsyncLoader.Load into a failure delivery only when the loader
// did not complete the callback itself.
func (cb *AsyncCallback[V]) tryUse() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.used {
		return false
	}
	cb.used = true
	return true
}
