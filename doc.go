// Package loadcache provides an in-process key/value cache with an
// integrated loading pipeline: on a miss the cache invokes a user-supplied
// loader, populates the entry and hands the value to every concurrent
// waiter for that key.
//
// # Overview
//
// The package is built around a small number of guarantees:
//
//   - At most one loader invocation is in flight per key for Get, GetAll
//     and LoadAll; concurrent callers share the same completion.
//   - ReloadAll forces an additional load per call, exempt from coalescing.
//   - Bulk loaders receive exactly the keys that became newly pending;
//     overlapping bulk operations never duplicate loader work.
//   - Loader failures are wrapped once into a coded envelope, cached in
//     the entry, and handled by a resilience policy that can serve the
//     previous value while a failure streak is suppressed.
//   - Refresh-ahead reloads entries close to expiry in the background;
//     accessors keep getting the current value without blocking.
//
// # Loader shapes
//
// Exactly one of five loader shapes is configured: sync single
// (Loader), sync with per-load details (AdvancedLoader), async single
// (AsyncLoader), sync bulk (BulkLoader) or async bulk (AsyncBulkLoader).
// Function adapters (LoaderFunc, BulkLoaderFunc, ...) allow plain
// functions everywhere.
//
//	cache, err := loadcache.New(loadcache.Config[string, User]{
//	        Loader: loadcache.LoaderFunc[string, User](func(ctx context.Context, key string) (User, error) {
//	                return fetchUser(ctx, key)
//	        }),
//	        ExpireAfterWrite: time.Hour,
//	})
//
//	user, err := cache.Get(ctx, "user:123")
//
// # Bulk loading
//
// With a bulk loader, LoadAll/GetAll group all newly pending keys into a
// single loader call:
//
//	cache, _ := loadcache.New(loadcache.Config[int, string]{
//	        BulkLoader: loadcache.BulkLoaderFunc[int, string](func(ctx context.Context, keys []int) (map[int]string, error) {
//	                return fetchMany(ctx, keys)
//	        }),
//	})
//	values, err := cache.GetAll(ctx, []int{1, 2, 3})
//
// A key absent from the returned mapping fails with a
// LOADCACHE_KEY_MISSING error; it is never a silent no-op.
//
// # Resilience
//
// With suppression enabled, a failing reload keeps serving the previous
// value until the resilience duration runs out, and failed keys are
// retried with exponential backoff and jitter:
//
//	cache, _ := loadcache.New(loadcache.Config[string, Quote]{
//	        Loader:           quoteLoader,
//	        ExpireAfterWrite: time.Minute,
//	        Resilience: loadcache.ResilienceConfig{
//	                SuppressExceptions: true,
//	                RetryInterval:      3 * time.Second,
//	        },
//	})
//
// # Errors
//
// All errors carry LOADCACHE_* codes (go-errors). Load failures surface as
// a LOADCACHE_LOADER_FAILED envelope whose cause chain reaches the
// loader's original error; aggregated batch failures carry the
// "<N> out of <M>" counts in their message.
//
// # Observability
//
// Config.MetricsCollector receives per-operation metrics; the prom
// sub-package ships a Prometheus-backed implementation. Config.Logger
// accepts any structured logger; NewZapLogger adapts a *zap.Logger.
//
// # Hot reload
//
// HotConfig watches a configuration file (via Argus) and swaps the
// resilience knobs and the refresh threshold at runtime without
// reconstruction.
package loadcache
